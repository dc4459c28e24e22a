// Package manifest streams work items out of the CSV manifests that drive
// bulk extraction jobs. A manifest is either one large CSV addressed by row
// range, or a prefix of pre-split per-job chunk files selected by array
// index; both modes yield the same rows.
package manifest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nzhao20-glitch/filing-etl/internal/records"
	"github.com/nzhao20-glitch/filing-etl/internal/storage"
)

// Row is one manifest entry: the object to process plus any per-row
// filing metadata the manifest carries.
type Row struct {
	Bucket string
	Key    string
	Meta   records.Metadata
}

// Reader fetches manifests from the object store.
type Reader struct {
	store  *storage.Client
	logger *slog.Logger
}

// NewReader builds a manifest reader on top of the shared store client.
func NewReader(store *storage.Client, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{store: store, logger: logger}
}

// ChunkKey returns the object key of the pre-split chunk CSV for one array
// index, e.g. manifests/job42/chunk_000007.csv.
func ChunkKey(prefix string, index int) string {
	return fmt.Sprintf("%s/chunk_%06d.csv", strings.TrimSuffix(prefix, "/"), index)
}

// ReadRange returns the manifest rows whose zero-based index lies in
// [start, end). A fetch or parse failure is fatal to the caller.
func (r *Reader) ReadRange(ctx context.Context, bucket, key string, start, end int) ([]Row, error) {
	data, err := r.store.Download(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return r.parse(data, start, end)
}

// ReadChunk returns every row of the chunk CSV selected by array index
// under the given prefix.
func (r *Reader) ReadChunk(ctx context.Context, bucket, prefix string, index int) ([]Row, error) {
	key := ChunkKey(prefix, index)
	data, err := r.store.Download(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("read manifest chunk: %w", err)
	}
	return r.parse(data, 0, -1)
}

// CountRows returns the number of data rows in a manifest, excluding the
// header.
func (r *Reader) CountRows(ctx context.Context, bucket, key string) (int, error) {
	data, err := r.store.Download(ctx, bucket, key)
	if err != nil {
		return 0, fmt.Errorf("count manifest rows: %w", err)
	}

	cr := newCSVReader(data)
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("read manifest header: %w", err)
	}

	count := 0
	for {
		if _, err := cr.Read(); err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("read manifest row: %w", err)
		}
		count++
	}
	return count, nil
}

// parse extracts rows [start, end) from CSV bytes. end < 0 means no upper
// bound. Rows without a usable bucket+key pair are logged and skipped.
func (r *Reader) parse(data []byte, start, end int) ([]Row, error) {
	cr := newCSVReader(data)

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for idx := 0; ; idx++ {
		rec, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read manifest row %d: %w", idx, err)
		}
		if idx < start {
			continue
		}
		if end >= 0 && idx >= end {
			break
		}

		// Both column naming schemes are in the wild.
		bucket := field(rec, "bucket")
		if bucket == "" {
			bucket = field(rec, "s3_bucket")
		}
		key := field(rec, "key")
		if key == "" {
			key = field(rec, "s3_key")
		}
		if bucket == "" || key == "" {
			r.logger.Warn("invalid manifest row", "row", idx)
			continue
		}

		meta := records.Metadata{
			SourceID:    field(rec, "source_id"),
			Exchange:    field(rec, "exchange"),
			CompanyID:   field(rec, "company_id"),
			CompanyName: field(rec, "company_name"),
			FilingDate:  field(rec, "filing_date"),
			FilingType:  field(rec, "filing_type"),
			Title:       field(rec, "title"),
		}
		// Manifests from the report pipeline carry report_date instead.
		if meta.FilingDate == "" {
			meta.FilingDate = field(rec, "report_date")
		}

		rows = append(rows, Row{Bucket: bucket, Key: key, Meta: meta})
	}
	return rows, nil
}

func newCSVReader(data []byte) *csv.Reader {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	return cr
}
