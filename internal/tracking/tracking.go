// Package tracking records worker lifecycle and per-file errors in
// DynamoDB for operational visibility. All writes are best-effort; a
// tracking outage never blocks extraction.
package tracking

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	DefaultJobsTable   = "filing-etl-jobs"
	DefaultErrorsTable = "filing-etl-errors"

	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"

	ErrorDownloadFailed   = "DOWNLOAD_FAILED"
	ErrorExtractionFailed = "EXTRACTION_FAILED"
	ErrorProcessing       = "PROCESSING_ERROR"

	ttl            = 90 * 24 * time.Hour
	maxErrorLength = 1000
)

// API is the slice of the DynamoDB client the tracker uses.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// JobStats are the counters written on job completion.
type JobStats struct {
	FilesProcessed int
	FilesFailed    int
	PagesExtracted int
}

// Tracker writes job and error records.
type Tracker struct {
	api         API
	jobsTable   string
	errorsTable string
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a tracker. Empty table names fall back to the defaults.
func New(api API, jobsTable, errorsTable string, logger *slog.Logger) *Tracker {
	if jobsTable == "" {
		jobsTable = DefaultJobsTable
	}
	if errorsTable == "" {
		errorsTable = DefaultErrorsTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		api:         api,
		jobsTable:   jobsTable,
		errorsTable: errorsTable,
		logger:      logger,
		now:         time.Now,
	}
}

// RecordJobStart writes a RUNNING entry for this job's chunk.
func (t *Tracker) RecordJobStart(ctx context.Context, jobID, exchange, manifestKey string, chunkStart, chunkEnd int) {
	if exchange == "" {
		exchange = "unknown"
	}
	now := t.now().Unix()

	_, err := t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.jobsTable),
		Item: map[string]types.AttributeValue{
			"job_id":          &types.AttributeValueMemberS{Value: jobID},
			"exchange":        &types.AttributeValueMemberS{Value: exchange},
			"manifest_key":    &types.AttributeValueMemberS{Value: manifestKey},
			"chunk_start":     &types.AttributeValueMemberN{Value: strconv.Itoa(chunkStart)},
			"chunk_end":       &types.AttributeValueMemberN{Value: strconv.Itoa(chunkEnd)},
			"status":          &types.AttributeValueMemberS{Value: StatusRunning},
			"started_at":      &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			"files_processed": &types.AttributeValueMemberN{Value: "0"},
			"files_failed":    &types.AttributeValueMemberN{Value: "0"},
			"pages_extracted": &types.AttributeValueMemberN{Value: "0"},
			"ttl":             &types.AttributeValueMemberN{Value: strconv.FormatInt(now+int64(ttl.Seconds()), 10)},
		},
	})
	if err != nil {
		t.logger.Warn("failed to record job start", "job_id", jobID, "error", err)
		return
	}
	t.logger.Info("recorded job start", "job_id", jobID)
}

// RecordJobComplete writes the terminal status and final counters.
func (t *Tracker) RecordJobComplete(ctx context.Context, jobID string, stats JobStats, status, errorMessage string) {
	updateExpr := "SET #status = :status, completed_at = :completed_at, " +
		"files_processed = :fp, files_failed = :ff, pages_extracted = :pe"
	values := map[string]types.AttributeValue{
		":status":       &types.AttributeValueMemberS{Value: status},
		":completed_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(t.now().Unix(), 10)},
		":fp":           &types.AttributeValueMemberN{Value: strconv.Itoa(stats.FilesProcessed)},
		":ff":           &types.AttributeValueMemberN{Value: strconv.Itoa(stats.FilesFailed)},
		":pe":           &types.AttributeValueMemberN{Value: strconv.Itoa(stats.PagesExtracted)},
	}
	if errorMessage != "" {
		if len(errorMessage) > maxErrorLength {
			errorMessage = errorMessage[:maxErrorLength]
		}
		updateExpr += ", error_message = :err"
		values[":err"] = &types.AttributeValueMemberS{Value: errorMessage}
	}

	_, err := t.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.jobsTable),
		Key:                       map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}},
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		t.logger.Warn("failed to record job complete", "job_id", jobID, "error", err)
		return
	}
	t.logger.Info("recorded job complete", "job_id", jobID, "status", status)
}

// RecordFileError writes one per-file failure entry.
func (t *Tracker) RecordFileError(ctx context.Context, jobID, s3Key, errorType, errorMessage string) {
	if len(errorMessage) > maxErrorLength {
		errorMessage = errorMessage[:maxErrorLength]
	}
	now := t.now().Unix()

	_, err := t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.errorsTable),
		Item: map[string]types.AttributeValue{
			"job_id":        &types.AttributeValueMemberS{Value: jobID},
			"s3_key":        &types.AttributeValueMemberS{Value: s3Key},
			"error_type":    &types.AttributeValueMemberS{Value: errorType},
			"error_message": &types.AttributeValueMemberS{Value: errorMessage},
			"timestamp":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			"ttl":           &types.AttributeValueMemberN{Value: strconv.FormatInt(now+int64(ttl.Seconds()), 10)},
		},
	})
	if err != nil {
		t.logger.Warn("failed to record file error", "job_id", jobID, "key", s3Key, "error", err)
	}
}
