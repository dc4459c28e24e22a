package ocrqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/nzhao20-glitch/filing-etl/internal/records"
)

// DefaultPageChunkSize bounds how many pages ride in one queue message,
// which bounds the OCR worker's per-message processing time against the
// queue visibility timeout.
const DefaultPageChunkSize = 10

// SQSAPI is the slice of the SQS client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PublisherConfig configures an OCR job publisher.
type PublisherConfig struct {
	API           SQSAPI
	QueueURL      string
	Enabled       bool
	PageChunkSize int
	Logger        *slog.Logger
}

// Publisher enqueues OCR jobs for broken pages. Publishing is never
// load-bearing for extraction: every failure path logs and returns zero.
type Publisher struct {
	api       SQSAPI
	queueURL  string
	enabled   bool
	chunkSize int
	logger    *slog.Logger

	missingQueueWarn sync.Once
	now              func() time.Time
}

// NewPublisher creates a publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.PageChunkSize <= 0 {
		cfg.PageChunkSize = DefaultPageChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		api:       cfg.API,
		queueURL:  cfg.QueueURL,
		enabled:   cfg.Enabled,
		chunkSize: cfg.PageChunkSize,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Publish enqueues the broken pages of one document, chunked to the
// configured page count per message, and returns the number of messages
// sent. Missing identifiers skip the publish with a warning; the
// extraction result itself is unaffected.
func (p *Publisher) Publish(ctx context.Context, exchange, sourceID, s3Bucket, s3Key string, brokenPages []int, meta records.Metadata) int {
	if len(brokenPages) == 0 {
		return 0
	}
	if !p.enabled {
		p.logger.Debug("ocr queue publishing disabled, skipping")
		return 0
	}
	if p.queueURL == "" {
		p.missingQueueWarn.Do(func() {
			p.logger.Warn("ocr queue publishing is enabled but the queue url is unset, skipping")
		})
		return 0
	}
	if exchange == "" || sourceID == "" || s3Bucket == "" || s3Key == "" {
		p.logger.Warn("skipping ocr queue publish due to missing metadata",
			"exchange", exchange, "source_id", sourceID, "bucket", s3Bucket, "key", s3Key)
		return 0
	}

	pages := CanonicalPages(brokenPages)
	if len(pages) == 0 {
		return 0
	}

	submittedAt := p.now().UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	jobMeta := Metadata{
		CompanyID:   meta.CompanyID,
		CompanyName: meta.CompanyName,
		FilingDate:  meta.FilingDate,
		FilingType:  meta.FilingType,
		Title:       meta.Title,
	}

	sent := 0
	for start := 0; start < len(pages); start += p.chunkSize {
		end := min(start+p.chunkSize, len(pages))

		body, err := json.Marshal(Job{
			Version:     Version,
			Exchange:    strings.ToUpper(exchange),
			SourceID:    sourceID,
			S3Bucket:    s3Bucket,
			S3Key:       s3Key,
			BrokenPages: pages[start:end],
			SubmittedAt: submittedAt,
			Metadata:    jobMeta,
		})
		if err != nil {
			p.logger.Error("failed to marshal ocr job", "source_id", sourceID, "error", err)
			continue
		}

		_, err = p.api.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			p.logger.Error("failed to publish ocr job", "source_id", sourceID, "error", err)
			continue
		}
		sent++
	}

	p.logger.Info("queued ocr messages",
		"messages", sent, "exchange", strings.ToUpper(exchange), "source_id", sourceID, "pages", len(pages))
	return sent
}
