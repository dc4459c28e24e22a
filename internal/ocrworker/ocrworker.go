// Package ocrworker consumes OCR jobs from the work queue and emits patch
// shards: JSONL records carrying the recovered text of pages the
// extraction worker marked broken. The patch key is a pure function of
// the job, so redelivered messages converge on the same object and the
// worker can skip work that already landed.
package ocrworker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/nzhao20-glitch/filing-etl/internal/extract"
	"github.com/nzhao20-glitch/filing-etl/internal/ocrqueue"
	"github.com/nzhao20-glitch/filing-etl/internal/providers"
	"github.com/nzhao20-glitch/filing-etl/internal/records"
	"github.com/nzhao20-glitch/filing-etl/internal/render"
)

// receiveErrorBackoff paces the loop when the queue itself is failing.
const receiveErrorBackoff = 5 * time.Second

// QueueAPI is the slice of the SQS client the worker uses.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ObjectStore is the slice of the storage client the worker uses.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	UploadJSONL(ctx context.Context, bucket, key string, recs []records.PageRecord) error
	UploadJSON(ctx context.Context, bucket, key string, v any) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// Config wires one OCR worker.
type Config struct {
	Queue    QueueAPI
	QueueURL string

	Store        ObjectStore
	OutputBucket string
	OutputPrefix string

	Provider providers.OCRProvider
	ECS      ECSAPI

	WaitSeconds       int
	VisibilityTimeout int
	MaxMessages       int
	RunOnce           bool
	WarmOnStartup     bool
	RenderDPI         int
	ProtectionMinutes int

	Logger *slog.Logger
}

// Worker is the queue consumer.
type Worker struct {
	cfg        Config
	consumerID string
	logger     *slog.Logger
}

// New creates a worker with a fresh consumer identity for log correlation.
func New(cfg Config) *Worker {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	id := uuid.NewString()[:8]
	return &Worker{
		cfg:        cfg,
		consumerID: id,
		logger:     cfg.Logger.With("consumer", id),
	}
}

// Run polls the queue until the context is canceled. In run-once mode it
// returns after the first empty receive instead of idling.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.cfg

	if cfg.WarmOnStartup && cfg.Provider != nil {
		if err := cfg.Provider.Warm(ctx); err != nil {
			w.logger.Warn("ocr warmup failed, continuing", "error", err)
		} else {
			w.logger.Info("ocr provider warm", "provider", cfg.Provider.Name())
		}
	}

	protection := newTaskProtection(ctx, cfg.ECS, cfg.ProtectionMinutes, w.logger)
	w.logger.Info("ocr worker started", "queue", cfg.QueueURL, "run_once", cfg.RunOnce)

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("ocr worker stopping", "reason", err)
			return nil
		}

		out, err := cfg.Queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(cfg.QueueURL),
			MaxNumberOfMessages: int32(cfg.MaxMessages),
			WaitTimeSeconds:     int32(cfg.WaitSeconds),
			VisibilityTimeout:   int32(cfg.VisibilityTimeout),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("failed to receive messages", "error", err)
			sleepCtx(ctx, receiveErrorBackoff)
			continue
		}

		if len(out.Messages) == 0 {
			if cfg.RunOnce {
				w.logger.Info("queue empty, exiting")
				return nil
			}
			continue
		}

		protection.acquire(ctx)
		for _, msg := range out.Messages {
			w.handleMessage(ctx, msg)
		}
		protection.release(ctx)

		if cfg.RunOnce {
			return nil
		}
	}
}

// handleMessage processes one delivery. Failures of any kind leave the
// message in the queue; the visibility timeout redelivers it and the
// queue's redrive policy eventually moves persistent failures to the DLQ.
func (w *Worker) handleMessage(ctx context.Context, msg sqstypes.Message) {
	job, err := ocrqueue.ParseJob([]byte(aws.ToString(msg.Body)))
	if err != nil {
		w.logger.Error("invalid ocr message, leaving for dlq redrive", "error", err)
		return
	}

	logger := w.logger.With("exchange", job.Exchange, "source_id", job.SourceID)
	start := time.Now()

	if err := w.processJob(ctx, logger, job); err != nil {
		logger.Error("ocr job failed, leaving message for retry", "error", err)
		return
	}

	logger.Info("ocr job complete", "pages", len(job.BrokenPages), "elapsed", time.Since(start).Round(time.Millisecond))
	w.deleteMessage(ctx, msg)
}

func (w *Worker) processJob(ctx context.Context, logger *slog.Logger, job *ocrqueue.Job) error {
	cfg := w.cfg

	patchKey := ocrqueue.PatchKey(cfg.OutputPrefix, job.Exchange, job.SourceID, job.BrokenPages)
	if exists, err := cfg.Store.Exists(ctx, cfg.OutputBucket, patchKey); err != nil {
		logger.Warn("patch existence check failed, processing anyway", "error", err)
	} else if exists {
		logger.Info("patch already exists, skipping", "key", patchKey)
		return nil
	}

	data, err := cfg.Store.Download(ctx, job.S3Bucket, job.S3Key)
	if err != nil {
		return fmt.Errorf("download source pdf: %w", err)
	}

	reader, err := extract.OpenPDF(data)
	if err != nil {
		return err
	}
	totalPages := reader.NumPage()

	pdfPath, cleanup, err := render.WriteTemp(data)
	if err != nil {
		return err
	}
	defer cleanup()

	var patch []records.PageRecord
	for _, pageNum := range job.BrokenPages {
		if pageNum > totalPages {
			logger.Warn("requested page beyond document, skipping", "page", pageNum, "total_pages", totalPages)
			continue
		}

		page := reader.Page(pageNum)
		pageW, pageH := extract.PageSize(page)

		text, boxes, err := extract.OCRPage(ctx, cfg.Provider, pdfPath, pageNum, pageW, pageH, cfg.RenderDPI)
		if err != nil {
			return err
		}

		if len(boxes) > 0 {
			bboxKey := fmt.Sprintf("ocr-bboxes/%s/%s/page_%d.json",
				strings.ToLower(job.Exchange), job.SourceID, pageNum)
			if err := cfg.Store.UploadJSON(ctx, cfg.OutputBucket, bboxKey, boxes); err != nil {
				return fmt.Errorf("upload bboxes for page %d: %w", pageNum, err)
			}
		}

		rec := records.PageRecord{
			UniquePageID: records.UniquePageID(job.Exchange, job.SourceID, pageNum),
			DocumentID:   job.SourceID,
			PageNumber:   pageNum,
			TotalPages:   totalPages,
			Text:         text,
			OCRRequired:  true,
			S3Key:        job.S3Key,
			FileType:     records.FileTypePDF,
			Exchange:     job.Exchange,
			CompanyID:    job.Metadata.CompanyID,
			CompanyName:  job.Metadata.CompanyName,
			FilingDate:   job.Metadata.FilingDate,
			FilingType:   job.Metadata.FilingType,
			Title:        job.Metadata.Title,
		}
		patch = append(patch, rec)
	}

	if len(patch) == 0 {
		logger.Warn("no pages in range, nothing to patch")
		return nil
	}
	if err := cfg.Store.UploadJSONL(ctx, cfg.OutputBucket, patchKey, patch); err != nil {
		return fmt.Errorf("upload patch: %w", err)
	}
	return nil
}

func (w *Worker) deleteMessage(ctx context.Context, msg sqstypes.Message) {
	_, err := w.cfg.Queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		w.logger.Error("failed to delete message", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
