// Package worker orchestrates one extraction job: it claims a slice of the
// manifest, extracts every document in it, ships the page records as JSONL
// shards, and reports progress to the tracking and dedup tables.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"

	"github.com/nzhao20-glitch/filing-etl/internal/dedup"
	"github.com/nzhao20-glitch/filing-etl/internal/extract"
	"github.com/nzhao20-glitch/filing-etl/internal/manifest"
	"github.com/nzhao20-glitch/filing-etl/internal/records"
	"github.com/nzhao20-glitch/filing-etl/internal/tracking"
)

// ErrAllFilesFailed is the terminal error when the job processed nothing
// and failed at least one file. A fully empty slice is a success.
var ErrAllFilesFailed = errors.New("all files failed to process")

// progressInterval is how many rows pass between progress log lines.
const progressInterval = 100

// ObjectStore is the slice of the storage client the worker uses.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// ManifestSource yields the rows of this job's manifest slice.
type ManifestSource interface {
	ReadRange(ctx context.Context, bucket, key string, start, end int) ([]manifest.Row, error)
	ReadChunk(ctx context.Context, bucket, prefix string, index int) ([]manifest.Row, error)
}

// Extractor turns one document into page records.
type Extractor interface {
	Process(ctx context.Context, req extract.Request) (extract.Result, error)
}

// DedupLedger arbitrates skips and records outcomes. Nil disables dedup.
type DedupLedger interface {
	BatchCheckCompleted(ctx context.Context, exchange string, sourceIDs []string, jobType string) map[string]bool
	BatchRecordProcessed(ctx context.Context, exchange string, items []dedup.ProcessedItem, jobID, jobType string) int
	RecordFailed(ctx context.Context, exchange, sourceID, s3Key, errorMessage, jobID, jobType string) error
}

// JobTracker records lifecycle and per-file errors. Nil disables tracking.
type JobTracker interface {
	RecordJobStart(ctx context.Context, jobID, exchange, manifestKey string, chunkStart, chunkEnd int)
	RecordJobComplete(ctx context.Context, jobID string, stats tracking.JobStats, status, errorMessage string)
	RecordFileError(ctx context.Context, jobID, s3Key, errorType, errorMessage string)
}

// OCRPublisher enqueues broken pages for asynchronous OCR. Nil disables
// publishing.
type OCRPublisher interface {
	Publish(ctx context.Context, exchange, sourceID, s3Bucket, s3Key string, brokenPages []int, meta records.Metadata) int
}

// BrokenPagesStore mirrors broken pages into the filings database. Nil
// disables the mirror.
type BrokenPagesStore interface {
	UpdateBrokenPages(ctx context.Context, exchange, sourceID string, brokenPages []int)
}

// Config wires one extraction job.
type Config struct {
	JobID      string
	ArrayIndex int
	ChunkSize  int

	ManifestBucket string
	ManifestKey    string

	// ChunkMode treats ManifestKey as a prefix of pre-split chunk CSVs
	// instead of one large CSV addressed by row range.
	ChunkMode bool

	OutputBucket string
	OutputPrefix string
	Exchange     string

	MetadataBucket string
	MetadataKey    string

	Store    ObjectStore
	Manifest ManifestSource
	Engine   Extractor
	Ledger   DedupLedger
	Tracker  JobTracker
	Queue    OCRPublisher
	Filings  BrokenPagesStore
	Logger   *slog.Logger
}

// Stats summarizes one extraction run.
type Stats struct {
	FilesProcessed int
	FilesFailed    int
	FilesSkipped   int
	PagesExtracted int
	ShardsWritten  int
}

// Worker runs one extraction job.
type Worker struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a worker.
func New(cfg Config) *Worker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{cfg: cfg, logger: cfg.Logger}
}

// Run executes the job slice end to end. It returns ErrAllFilesFailed when
// every attempted file failed; shard upload errors are fatal immediately.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	cfg := w.cfg
	start := cfg.ArrayIndex * cfg.ChunkSize
	end := start + cfg.ChunkSize

	w.logger.Info("starting extraction job",
		"job_id", cfg.JobID, "array_index", cfg.ArrayIndex,
		"chunk_start", start, "chunk_end", end, "exchange", cfg.Exchange)

	if cfg.Tracker != nil {
		cfg.Tracker.RecordJobStart(ctx, cfg.JobID, cfg.Exchange, cfg.ManifestKey, start, end)
	}

	rows, err := w.readRows(ctx, start, end)
	if err != nil {
		w.completeJob(ctx, Stats{}, tracking.StatusFailed, err.Error())
		return Stats{}, err
	}
	if len(rows) == 0 {
		w.logger.Info("no manifest rows in range, nothing to do", "chunk_start", start)
		w.completeJob(ctx, Stats{}, tracking.StatusSucceeded, "")
		return Stats{}, nil
	}

	lookup := w.loadMetadataLookup(ctx)
	skip := w.completedSet(ctx, rows)

	shards := newShardWriter(cfg.Store, cfg.OutputBucket, cfg.OutputPrefix, cfg.Exchange, cfg.ArrayIndex)
	var stats Stats
	var processed []dedup.ProcessedItem

	for i, row := range rows {
		if i > 0 && i%progressInterval == 0 {
			w.logger.Info("extraction progress", "rows", i, "total", len(rows),
				"processed", stats.FilesProcessed, "failed", stats.FilesFailed, "skipped", stats.FilesSkipped)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		sourceID := rowSourceID(row)
		if skip[sourceID] {
			stats.FilesSkipped++
			continue
		}

		pages, ok := w.processRow(ctx, row, sourceID, lookup, shards)
		if !ok {
			stats.FilesFailed++
			continue
		}
		stats.FilesProcessed++
		stats.PagesExtracted += pages
		processed = append(processed, dedup.ProcessedItem{
			SourceID:       sourceID,
			S3Key:          row.Key,
			PagesExtracted: pages,
		})
	}

	if err := shards.flush(ctx); err != nil {
		w.completeJob(ctx, stats, tracking.StatusFailed, err.Error())
		return stats, err
	}
	stats.ShardsWritten = shards.shardsWritten

	if cfg.Ledger != nil && cfg.Exchange != "" && len(processed) > 0 {
		cfg.Ledger.BatchRecordProcessed(ctx, cfg.Exchange, processed, cfg.JobID, dedup.JobTypeExtraction)
	}

	if stats.FilesFailed > 0 && stats.FilesProcessed == 0 {
		w.completeJob(ctx, stats, tracking.StatusFailed, "All files failed to process")
		return stats, ErrAllFilesFailed
	}

	w.completeJob(ctx, stats, tracking.StatusSucceeded, "")
	w.logger.Info("extraction job complete",
		"processed", stats.FilesProcessed, "failed", stats.FilesFailed,
		"skipped", stats.FilesSkipped, "pages", stats.PagesExtracted, "shards", stats.ShardsWritten)
	return stats, nil
}

// processRow handles one manifest row. It reports whether the file counts
// as processed; pages extracted before a mid-document failure are still
// shipped.
func (w *Worker) processRow(ctx context.Context, row manifest.Row, sourceID string, lookup map[string]records.Metadata, shards *shardWriter) (int, bool) {
	cfg := w.cfg

	data, err := cfg.Store.Download(ctx, row.Bucket, row.Key)
	if err != nil {
		w.logger.Error("failed to download file", "key", row.Key, "error", err)
		w.recordFileFailure(ctx, sourceID, row.Key, tracking.ErrorDownloadFailed, err)
		return 0, false
	}

	meta := row.Meta.Merge(lookup[sourceID])
	res, err := cfg.Engine.Process(ctx, extract.Request{
		Data:       data,
		Filename:   path.Base(row.Key),
		S3Key:      row.Key,
		Exchange:   cfg.Exchange,
		DocumentID: sourceID,
		Meta:       meta,
	})

	for _, page := range res.Pages {
		if addErr := shards.add(ctx, page); addErr != nil {
			w.logger.Error("failed to buffer page record", "key", row.Key, "error", addErr)
			break
		}
	}

	if err != nil {
		w.logger.Error("failed to extract file", "key", row.Key, "error", err)
		w.recordFileFailure(ctx, sourceID, row.Key, tracking.ErrorExtractionFailed, err)
		if len(res.Pages) == 0 {
			return 0, false
		}
		// A file that yielded pages before failing still counts as
		// processed; the shipped pages are valid.
		return len(res.Pages), true
	}

	if len(res.BrokenPages) > 0 {
		exchange := cfg.Exchange
		if exchange == "" {
			exchange = meta.Exchange
		}
		if cfg.Queue != nil {
			cfg.Queue.Publish(ctx, exchange, sourceID, row.Bucket, row.Key, res.BrokenPages, meta)
		}
		if cfg.Filings != nil {
			cfg.Filings.UpdateBrokenPages(ctx, exchange, sourceID, res.BrokenPages)
		}
	}
	return len(res.Pages), true
}

func (w *Worker) readRows(ctx context.Context, start, end int) ([]manifest.Row, error) {
	if w.cfg.ChunkMode {
		return w.cfg.Manifest.ReadChunk(ctx, w.cfg.ManifestBucket, w.cfg.ManifestKey, w.cfg.ArrayIndex)
	}
	return w.cfg.Manifest.ReadRange(ctx, w.cfg.ManifestBucket, w.cfg.ManifestKey, start, end)
}

// loadMetadataLookup fetches the optional source_id keyed metadata file.
// Missing or malformed lookups degrade to key-derived metadata only.
func (w *Worker) loadMetadataLookup(ctx context.Context) map[string]records.Metadata {
	cfg := w.cfg
	if cfg.MetadataBucket == "" || cfg.MetadataKey == "" {
		return nil
	}
	data, err := cfg.Store.Download(ctx, cfg.MetadataBucket, cfg.MetadataKey)
	if err != nil {
		w.logger.Warn("failed to load metadata lookup, continuing without it",
			"bucket", cfg.MetadataBucket, "key", cfg.MetadataKey, "error", err)
		return nil
	}
	var lookup map[string]records.Metadata
	if err := json.Unmarshal(data, &lookup); err != nil {
		w.logger.Warn("failed to parse metadata lookup, continuing without it",
			"key", cfg.MetadataKey, "error", err)
		return nil
	}
	w.logger.Info("loaded metadata lookup", "entries", len(lookup))
	return lookup
}

// completedSet asks the dedup ledger which rows are already done. The
// ledger partitions on the exchange, so dedup is inert without one.
func (w *Worker) completedSet(ctx context.Context, rows []manifest.Row) map[string]bool {
	if w.cfg.Ledger == nil || w.cfg.Exchange == "" {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, rowSourceID(row))
	}
	completed := w.cfg.Ledger.BatchCheckCompleted(ctx, w.cfg.Exchange, ids, dedup.JobTypeExtraction)
	if len(completed) > 0 {
		w.logger.Info("skipping already-processed files", "count", len(completed))
	}
	return completed
}

func (w *Worker) recordFileFailure(ctx context.Context, sourceID, s3Key, errorType string, err error) {
	if w.cfg.Tracker != nil {
		w.cfg.Tracker.RecordFileError(ctx, w.cfg.JobID, s3Key, errorType, err.Error())
	}
	if w.cfg.Ledger != nil && w.cfg.Exchange != "" {
		w.cfg.Ledger.RecordFailed(ctx, w.cfg.Exchange, sourceID, s3Key, err.Error(), w.cfg.JobID, dedup.JobTypeExtraction)
	}
}

func (w *Worker) completeJob(ctx context.Context, stats Stats, status, errorMessage string) {
	if w.cfg.Tracker == nil {
		return
	}
	w.cfg.Tracker.RecordJobComplete(ctx, w.cfg.JobID, tracking.JobStats{
		FilesProcessed: stats.FilesProcessed,
		FilesFailed:    stats.FilesFailed,
		PagesExtracted: stats.PagesExtracted,
	}, status, errorMessage)
}

// rowSourceID picks the dedup identity of a row: the manifest's source_id
// when present, otherwise the key-derived one.
func rowSourceID(row manifest.Row) string {
	if row.Meta.SourceID != "" {
		return row.Meta.SourceID
	}
	return extract.SourceIDFromKey(row.Key)
}
