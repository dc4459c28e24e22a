// Package dedup implements the filing dedup ledger on DynamoDB. The
// ledger arbitrates which source IDs a worker may skip: only COMPLETED
// entries count, and every read path fails open so ledger unavailability
// re-processes work instead of silently dropping it.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// DefaultTable is the dedup table name unless overridden.
	DefaultTable = "filing-etl-dedup"

	// JobTypeExtraction is the default pipeline step recorded in the
	// partition key; the indexer uses its own job type.
	JobTypeExtraction = "extraction"

	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"

	batchGetSize   = 100 // BatchGetItem limit
	batchWriteSize = 25  // BatchWriteItem limit
	retryDelay     = 500 * time.Millisecond

	maxErrorLength = 1000
)

// API is the slice of the DynamoDB client the ledger uses.
type API interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// ProcessedItem records one successfully extracted document.
type ProcessedItem struct {
	SourceID       string
	S3Key          string
	PagesExtracted int
}

// Ledger is the dedup ledger client.
type Ledger struct {
	api    API
	table  string
	logger *slog.Logger

	// sleep is swapped in tests to skip the unprocessed-key backoff.
	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a ledger client against the given table.
func New(api API, table string, logger *slog.Logger) *Ledger {
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		api:    api,
		table:  table,
		logger: logger,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// partitionKey is the literal "{exchange}#{job_type}" concatenation.
func partitionKey(exchange, jobType string) string {
	if jobType == "" {
		jobType = JobTypeExtraction
	}
	return exchange + "#" + jobType
}

// BatchCheckCompleted returns the subset of sourceIDs already COMPLETED
// for this exchange and job type. Fail-open: on any store error it
// returns whatever was gathered so far, so callers re-process rather
// than skip.
func (l *Ledger) BatchCheckCompleted(ctx context.Context, exchange string, sourceIDs []string, jobType string) map[string]bool {
	completed := make(map[string]bool)
	if len(sourceIDs) == 0 {
		return completed
	}

	pk := partitionKey(exchange, jobType)

	for i := 0; i < len(sourceIDs); i += batchGetSize {
		end := min(i+batchGetSize, len(sourceIDs))
		keys := make([]map[string]types.AttributeValue, 0, end-i)
		for _, sid := range sourceIDs[i:end] {
			keys = append(keys, map[string]types.AttributeValue{
				"pk":        &types.AttributeValueMemberS{Value: pk},
				"source_id": &types.AttributeValueMemberS{Value: sid},
			})
		}

		out, err := l.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				l.table: {
					Keys:                     keys,
					ProjectionExpression:     aws.String("source_id, #s"),
					ExpressionAttributeNames: map[string]string{"#s": "status"},
				},
			},
		})
		if err != nil {
			l.logger.Warn("dedup check failed (fail-open, will re-process)", "error", err)
			continue
		}
		l.collectCompleted(out.Responses[l.table], completed)

		// Unprocessed keys get exactly one retry; anything still
		// unprocessed is surrendered and re-processed downstream.
		if unprocessed, ok := out.UnprocessedKeys[l.table]; ok && len(unprocessed.Keys) > 0 {
			l.logger.Warn("dedup check returned unprocessed keys, retrying", "count", len(unprocessed.Keys))
			l.sleep(retryDelay)
			retryOut, err := l.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{l.table: unprocessed},
			})
			if err != nil {
				l.logger.Warn("dedup retry failed (fail-open)", "error", err)
				continue
			}
			l.collectCompleted(retryOut.Responses[l.table], completed)
		}
	}
	return completed
}

func (l *Ledger) collectCompleted(items []map[string]types.AttributeValue, completed map[string]bool) {
	for _, item := range items {
		status, _ := item["status"].(*types.AttributeValueMemberS)
		sid, _ := item["source_id"].(*types.AttributeValueMemberS)
		if status != nil && sid != nil && status.Value == StatusCompleted {
			completed[sid.Value] = true
		}
	}
}

// BatchRecordProcessed upserts COMPLETED entries for processed items and
// returns how many writes landed. Write failures are logged, not fatal.
func (l *Ledger) BatchRecordProcessed(ctx context.Context, exchange string, items []ProcessedItem, jobID, jobType string) int {
	if len(items) == 0 {
		return 0
	}

	pk := partitionKey(exchange, jobType)
	now := strconv.FormatInt(l.now().Unix(), 10)
	written := 0

	for i := 0; i < len(items); i += batchWriteSize {
		end := min(i+batchWriteSize, len(items))
		requests := make([]types.WriteRequest, 0, end-i)
		for _, item := range items[i:end] {
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{
					Item: map[string]types.AttributeValue{
						"pk":              &types.AttributeValueMemberS{Value: pk},
						"source_id":       &types.AttributeValueMemberS{Value: item.SourceID},
						"status":          &types.AttributeValueMemberS{Value: StatusCompleted},
						"s3_key":          &types.AttributeValueMemberS{Value: item.S3Key},
						"pages_extracted": &types.AttributeValueMemberN{Value: strconv.Itoa(item.PagesExtracted)},
						"processed_at":    &types.AttributeValueMemberN{Value: now},
						"job_id":          &types.AttributeValueMemberS{Value: jobID},
					},
				},
			})
		}

		out, err := l.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{l.table: requests},
		})
		if err != nil {
			l.logger.Warn("dedup: failed to record batch", "error", err)
			continue
		}
		unprocessed := out.UnprocessedItems[l.table]
		written += len(requests) - len(unprocessed)

		if len(unprocessed) > 0 {
			l.logger.Warn("dedup: unprocessed writes, retrying", "count", len(unprocessed))
			l.sleep(retryDelay)
			retryOut, err := l.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{l.table: unprocessed},
			})
			if err != nil {
				l.logger.Warn("dedup: retry failed", "error", err)
				continue
			}
			written += len(unprocessed) - len(retryOut.UnprocessedItems[l.table])
		}
	}

	l.logger.Info("dedup: recorded processed items", "written", written, "total", len(items))
	return written
}

// RecordFailed writes a FAILED entry for one document. FAILED entries are
// never skipped on re-runs and are overwritten by a later COMPLETED.
func (l *Ledger) RecordFailed(ctx context.Context, exchange, sourceID, s3Key, errorMessage, jobID, jobType string) error {
	if len(errorMessage) > maxErrorLength {
		errorMessage = errorMessage[:maxErrorLength]
	}

	_, err := l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"pk":            &types.AttributeValueMemberS{Value: partitionKey(exchange, jobType)},
			"source_id":     &types.AttributeValueMemberS{Value: sourceID},
			"status":        &types.AttributeValueMemberS{Value: StatusFailed},
			"s3_key":        &types.AttributeValueMemberS{Value: s3Key},
			"error_message": &types.AttributeValueMemberS{Value: errorMessage},
			"processed_at":  &types.AttributeValueMemberN{Value: strconv.FormatInt(l.now().Unix(), 10)},
			"job_id":        &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		l.logger.Warn("dedup: failed to record failure", "source_id", sourceID, "error", err)
		return fmt.Errorf("record failed entry: %w", err)
	}
	return nil
}
