package main

import (
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/nzhao20-glitch/filing-etl/internal/config"
	"github.com/nzhao20-glitch/filing-etl/internal/dedup"
	"github.com/nzhao20-glitch/filing-etl/internal/extract"
	"github.com/nzhao20-glitch/filing-etl/internal/filingsdb"
	"github.com/nzhao20-glitch/filing-etl/internal/manifest"
	"github.com/nzhao20-glitch/filing-etl/internal/metrics"
	"github.com/nzhao20-glitch/filing-etl/internal/ocrqueue"
	"github.com/nzhao20-glitch/filing-etl/internal/providers"
	"github.com/nzhao20-glitch/filing-etl/internal/storage"
	"github.com/nzhao20-glitch/filing-etl/internal/tracking"
	"github.com/nzhao20-glitch/filing-etl/internal/worker"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run one extraction job over a manifest slice",
	Long: `Extract processes the manifest rows assigned to this job's array
index: it downloads each filing, extracts per-page text, writes JSONL
shards, and queues pages with a broken text layer for OCR. All
configuration comes from environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.LoadExtract()
		logger := newLogger(cfg.LogLevel)

		if err := cfg.Validate(); err != nil {
			return err
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		store := storage.New(s3.NewFromConfig(awsCfg), logger)

		var ocr providers.OCRProvider
		if cfg.EnableInlineOCR {
			ocr = providers.NewDoctrClient(providers.DoctrConfig{Endpoint: cfg.OCREndpoint})
		}

		engine := extract.New(extract.Config{
			Gibberish:  cfg.Gibberish,
			InlineOCR:  cfg.EnableInlineOCR,
			OCR:        ocr,
			RenderDPI:  cfg.RenderDPI,
			Boxes:      store,
			BBoxBucket: cfg.BBoxBucket,
			Metrics:    metrics.NewEmitter(cfg.EnableGibberishMetrics, logger),
			Logger:     logger,
		})

		wcfg := worker.Config{
			JobID:          cfg.JobID,
			ArrayIndex:     cfg.ArrayIndex,
			ChunkSize:      cfg.ChunkSize,
			ManifestBucket: cfg.ManifestBucket,
			ManifestKey:    cfg.ManifestKey,
			ChunkMode:      cfg.ManifestChunkMode,
			OutputBucket:   cfg.OutputBucket,
			OutputPrefix:   cfg.OutputPrefix,
			Exchange:       cfg.Exchange,
			MetadataBucket: cfg.MetadataBucket,
			MetadataKey:    cfg.MetadataKey,
			Store:          store,
			Manifest:       manifest.NewReader(store, logger),
			Engine:         engine,
			Queue: ocrqueue.NewPublisher(ocrqueue.PublisherConfig{
				API:           sqs.NewFromConfig(awsCfg),
				QueueURL:      cfg.OCRQueueURL,
				Enabled:       cfg.EnableOCRQueue,
				PageChunkSize: cfg.OCRPageChunkSize,
				Logger:        logger,
			}),
			Logger: logger,
		}
		// The ledger keys on the exchange; without one there is nothing
		// valid to partition under.
		if cfg.EnableDedup && cfg.Exchange != "" {
			wcfg.Ledger = dedup.New(dynamodb.NewFromConfig(awsCfg), cfg.DedupTable, logger)
		}
		if cfg.EnableTracking {
			wcfg.Tracker = tracking.New(dynamodb.NewFromConfig(awsCfg), cfg.JobsTable, cfg.ErrorsTable, logger)
		}
		if cfg.DatabaseURL != "" {
			fdb := filingsdb.New(cfg.DatabaseURL, logger)
			defer fdb.Close()
			wcfg.Filings = fdb
		}

		_, err = worker.New(wcfg).Run(ctx)
		return err
	},
}
