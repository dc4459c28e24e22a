package main

import (
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/nzhao20-glitch/filing-etl/internal/config"
	"github.com/nzhao20-glitch/filing-etl/internal/ocrworker"
	"github.com/nzhao20-glitch/filing-etl/internal/providers"
	"github.com/nzhao20-glitch/filing-etl/internal/storage"
)

var ocrWorkerCmd = &cobra.Command{
	Use:   "ocr-worker",
	Short: "Consume OCR jobs from the work queue",
	Long: `Ocr-worker long-polls the OCR queue for pages the extraction worker
could not read, renders them, runs OCR, and uploads patch shards. It
runs until terminated, or drains the queue once with
OCR_WORKER_RUN_ONCE=true.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.LoadOCRWorker()
		logger := newLogger(cfg.LogLevel)

		if err := cfg.Validate(); err != nil {
			return err
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}

		wcfg := ocrworker.Config{
			Queue:             sqs.NewFromConfig(awsCfg),
			QueueURL:          cfg.QueueURL,
			Store:             storage.New(s3.NewFromConfig(awsCfg), logger),
			OutputBucket:      cfg.OutputBucket,
			OutputPrefix:      cfg.OutputPrefix,
			Provider:          providers.NewDoctrClient(providers.DoctrConfig{Endpoint: cfg.OCREndpoint}),
			WaitSeconds:       cfg.WaitSeconds,
			VisibilityTimeout: cfg.VisibilityTimeout,
			MaxMessages:       cfg.MaxMessages,
			RunOnce:           cfg.RunOnce,
			WarmOnStartup:     cfg.WarmOnStartup,
			RenderDPI:         cfg.RenderDPI,
			ProtectionMinutes: cfg.ProtectionMinutes,
			Logger:            logger,
		}
		if cfg.ScaleInProtection {
			wcfg.ECS = ecs.NewFromConfig(awsCfg)
		}

		return ocrworker.New(wcfg).Run(ctx)
	},
}
