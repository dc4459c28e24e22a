// Package extract turns filing documents (PDF and HTML) into per-page
// records for the downstream index. It detects pages whose text layer is
// unusable and either defers them to the OCR queue or, when inline OCR is
// enabled, repairs them in place.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/nzhao20-glitch/filing-etl/internal/providers"
	"github.com/nzhao20-glitch/filing-etl/internal/records"
)

// GibberishCounter receives one increment per detected gibberish page.
type GibberishCounter interface {
	GibberishDetected(ctx context.Context, exchange string)
}

// BBoxStore persists per-page bounding-box artifacts.
type BBoxStore interface {
	UploadJSON(ctx context.Context, bucket, key string, v any) error
}

// Config wires the engine's collaborators.
type Config struct {
	Gibberish GibberishConfig

	// InlineOCR runs the OCR provider synchronously on gibberish pages
	// instead of deferring them to the queue.
	InlineOCR bool
	OCR       providers.OCRProvider
	RenderDPI int

	// Boxes and BBoxBucket receive bounding-box artifacts from inline OCR.
	Boxes      BBoxStore
	BBoxBucket string

	Metrics GibberishCounter
	Logger  *slog.Logger
}

// Engine extracts page records from document bytes.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an extraction engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gibberish == (GibberishConfig{}) {
		cfg.Gibberish = DefaultGibberishConfig()
	}
	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// Request is one document to extract.
type Request struct {
	Data     []byte
	Filename string
	S3Key    string

	// Exchange and DocumentID override whatever the key or manifest says.
	Exchange   string
	DocumentID string

	// Meta is the merged manifest-row and lookup metadata.
	Meta records.Metadata
}

// Result carries the extracted pages and, for PDFs, the 1-based numbers
// of pages whose text layer was unusable.
type Result struct {
	Pages       []records.PageRecord
	BrokenPages []int
}

// Process extracts a document, auto-detecting its file type. Pages
// returned alongside an error are still valid.
func (e *Engine) Process(ctx context.Context, req Request) (Result, error) {
	name := req.S3Key
	if name == "" {
		name = req.Filename
	}

	fileType := ClassifyName(name)
	if fileType == TypeUnknown {
		if detected := ClassifyContent(req.Data); detected != TypeUnknown {
			e.logger.Info("detected file type from content", "type", detected, "file", req.Filename)
			fileType = detected
		}
	}

	meta := e.mergeMetadata(req)
	docID := meta.SourceID
	if docID == "" {
		docID = strings.TrimSuffix(req.Filename, path.Ext(req.Filename))
	}

	switch fileType {
	case TypePDF:
		return e.processPDF(ctx, req, meta, docID)
	case TypeHTML:
		return e.processHTML(req, meta, docID)
	default:
		e.logger.Warn("unsupported file type", "file", req.Filename, "type", fileType)
		return Result{}, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

// mergeMetadata applies the precedence chain, lowest first: parsed S3 key,
// per-row manifest metadata, exchange override, document ID override.
func (e *Engine) mergeMetadata(req Request) records.Metadata {
	meta := ParseKeyMetadata(req.S3Key).Merge(req.Meta)
	if req.Exchange != "" {
		meta.Exchange = req.Exchange
	}
	if req.DocumentID != "" {
		meta.SourceID = req.DocumentID
	}
	return meta
}

func (e *Engine) processHTML(req Request, meta records.Metadata, docID string) (Result, error) {
	text, err := htmlToText(req.Data)
	if err != nil {
		e.logger.Error("failed to process html", "file", req.Filename, "error", err)
		return Result{}, err
	}

	rec := records.PageRecord{
		UniquePageID: records.UniquePageID(meta.Exchange, docID, 1),
		DocumentID:   docID,
		PageNumber:   1,
		TotalPages:   1,
		Text:         text,
		S3Key:        req.S3Key,
		FileType:     records.FileTypeHTML,
	}
	meta.Apply(&rec)

	e.logger.Info("extracted html document", "file", req.Filename, "pages", 1)
	return Result{Pages: []records.PageRecord{rec}}, nil
}
