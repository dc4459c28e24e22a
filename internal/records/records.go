// Package records defines the page-level output schema shared by the
// extraction worker and the OCR worker. Both paths emit the same JSONL
// shape so the downstream indexer can treat OCR patches as overlays of
// primary shards.
package records

import "fmt"

// FileType identifies the source document format of a PageRecord.
const (
	FileTypePDF  = "pdf"
	FileTypeHTML = "html"
)

// PageRecord is one line of JSONL output: a single page of a filing.
type PageRecord struct {
	UniquePageID string `json:"unique_page_id"`
	DocumentID   string `json:"document_id"`
	PageNumber   int    `json:"page_number"`
	TotalPages   int    `json:"total_pages"`
	Text         string `json:"text"`
	OCRRequired  bool   `json:"ocr_required"`
	S3Key        string `json:"s3_key"`
	FileType     string `json:"file_type"`

	// Optional filing metadata, present only when known.
	Exchange    string `json:"exchange,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	FilingDate  string `json:"filing_date,omitempty"`
	FilingType  string `json:"filing_type,omitempty"`
	Title       string `json:"title,omitempty"`
}

// UniquePageID builds the page identifier used as the downstream index key.
// The exchange prefix is omitted when the exchange is unknown.
func UniquePageID(exchange, documentID string, pageNumber int) string {
	if exchange != "" {
		return fmt.Sprintf("%s_%s_pg%d", exchange, documentID, pageNumber)
	}
	return fmt.Sprintf("%s_pg%d", documentID, pageNumber)
}

// Metadata carries the filing metadata fields recognized across the
// manifest, the S3 key layout, and the metadata lookup file.
type Metadata struct {
	SourceID    string `json:"source_id,omitempty"`
	Exchange    string `json:"exchange,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	FilingDate  string `json:"filing_date,omitempty"`
	FilingType  string `json:"filing_type,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Merge returns a copy of m with every non-empty field of overlay applied
// on top. Callers chain Merge to express precedence, lowest first.
func (m Metadata) Merge(overlay Metadata) Metadata {
	if overlay.SourceID != "" {
		m.SourceID = overlay.SourceID
	}
	if overlay.Exchange != "" {
		m.Exchange = overlay.Exchange
	}
	if overlay.CompanyID != "" {
		m.CompanyID = overlay.CompanyID
	}
	if overlay.CompanyName != "" {
		m.CompanyName = overlay.CompanyName
	}
	if overlay.FilingDate != "" {
		m.FilingDate = overlay.FilingDate
	}
	if overlay.FilingType != "" {
		m.FilingType = overlay.FilingType
	}
	if overlay.Title != "" {
		m.Title = overlay.Title
	}
	return m
}

// Apply stamps the metadata fields onto a PageRecord.
func (m Metadata) Apply(rec *PageRecord) {
	rec.Exchange = m.Exchange
	rec.CompanyID = m.CompanyID
	rec.CompanyName = m.CompanyName
	rec.FilingDate = m.FilingDate
	rec.FilingType = m.FilingType
	rec.Title = m.Title
}
