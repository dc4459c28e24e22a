// Package ocrqueue implements the work-queue protocol linking extraction
// to asynchronous OCR: message schema, validation, page chunking, and the
// deterministic patch key that doubles as the consumer's idempotence
// token.
package ocrqueue

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Version is the current message schema version.
const Version = 1

// Metadata is the filing metadata subset carried in queue messages and
// copied onto patch records.
type Metadata struct {
	CompanyID   string `json:"company_id,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	FilingDate  string `json:"filing_date,omitempty"`
	FilingType  string `json:"filing_type,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Job is one OCR work item: a set of broken pages in a single source
// document.
type Job struct {
	Version     int      `json:"version"`
	Exchange    string   `json:"exchange"`
	SourceID    string   `json:"source_id"`
	S3Bucket    string   `json:"s3_bucket"`
	S3Key       string   `json:"s3_key"`
	BrokenPages []int    `json:"broken_pages"`
	SubmittedAt string   `json:"submitted_at"`
	Metadata    Metadata `json:"metadata"`
}

// ParseJob validates and canonicalizes a queue message body. The returned
// job has a sorted, unique, strictly positive page list and an uppercased
// exchange.
func ParseJob(body []byte) (*Job, error) {
	var raw struct {
		Version     int             `json:"version"`
		Exchange    *string         `json:"exchange"`
		SourceID    *string         `json:"source_id"`
		S3Bucket    *string         `json:"s3_bucket"`
		S3Key       *string         `json:"s3_key"`
		BrokenPages json.RawMessage `json:"broken_pages"`
		SubmittedAt string          `json:"submitted_at"`
		Metadata    Metadata        `json:"metadata"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse message body: %w", err)
	}

	var missing []string
	for name, v := range map[string]*string{
		"exchange":  raw.Exchange,
		"source_id": raw.SourceID,
		"s3_bucket": raw.S3Bucket,
		"s3_key":    raw.S3Key,
	} {
		if v == nil {
			missing = append(missing, name)
		}
	}
	if raw.BrokenPages == nil {
		missing = append(missing, "broken_pages")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	var pages []int
	if err := json.Unmarshal(raw.BrokenPages, &pages); err != nil {
		return nil, fmt.Errorf("broken_pages must be a list of page numbers: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("broken_pages must be a non-empty list")
	}
	pages = CanonicalPages(pages)
	if len(pages) == 0 {
		return nil, fmt.Errorf("no valid page numbers in broken_pages")
	}

	job := &Job{
		Version:     raw.Version,
		Exchange:    strings.ToUpper(strings.TrimSpace(*raw.Exchange)),
		SourceID:    strings.TrimSpace(*raw.SourceID),
		S3Bucket:    strings.TrimSpace(*raw.S3Bucket),
		S3Key:       strings.TrimSpace(*raw.S3Key),
		BrokenPages: pages,
		SubmittedAt: raw.SubmittedAt,
		Metadata:    raw.Metadata,
	}
	if job.Exchange == "" || job.SourceID == "" || job.S3Bucket == "" || job.S3Key == "" {
		return nil, fmt.Errorf("exchange, source_id, s3_bucket, and s3_key must be non-empty")
	}
	return job, nil
}

// CanonicalPages filters a page list to sorted, unique, strictly
// positive numbers.
func CanonicalPages(pages []int) []int {
	seen := make(map[int]bool, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p > 0 && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// PatchKey derives the deterministic object key of a job's OCR patch.
// The digest over the page list makes the key a pure function of the job,
// so a redelivered message lands on the same object.
func PatchKey(outputPrefix, exchange, sourceID string, pages []int) string {
	joined := make([]string, len(pages))
	for i, p := range pages {
		joined[i] = strconv.Itoa(p)
	}
	sum := sha1.Sum([]byte(strings.Join(joined, ",")))
	digest := hex.EncodeToString(sum[:])[:12]

	return fmt.Sprintf("%s/%s/ocr-patches/%s/pages_%d_%d_%s.jsonl",
		outputPrefix, strings.ToLower(exchange), sourceID, pages[0], pages[len(pages)-1], digest)
}
