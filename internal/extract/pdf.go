package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/Geek0x0/pdf"

	"github.com/nzhao20-glitch/filing-etl/internal/providers"
	"github.com/nzhao20-glitch/filing-etl/internal/records"
	"github.com/nzhao20-glitch/filing-etl/internal/render"
)

// US Letter, used when a page carries no usable MediaBox.
const (
	fallbackPageWidth  = 612.0
	fallbackPageHeight = 792.0
)

// OpenPDF parses PDF bytes into a reader. Filings arrive malformed often
// enough that parser panics are converted to errors here.
func OpenPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r = nil
			err = fmt.Errorf("open pdf: %v", p)
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return r, nil
}

// PageText extracts the text layer of one page, tolerating parser panics
// on damaged content streams.
func PageText(ctx context.Context, p pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("page text: %v", r)
		}
	}()
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(ctx, nil)
}

// pageMediaBox resolves the effective MediaBox of a page. The entry is
// inheritable, so missing boxes are looked up through the page tree.
func pageMediaBox(p pdf.Page) pdf.Value {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		if box := v.Key("MediaBox"); !box.IsNull() {
			return box
		}
	}
	return pdf.Value{}
}

// PageSize returns the page dimensions in points from the MediaBox,
// falling back to US Letter when absent.
func PageSize(p pdf.Page) (w, h float64) {
	if p.V.IsNull() {
		return fallbackPageWidth, fallbackPageHeight
	}
	box := pageMediaBox(p)
	if box.Len() != 4 {
		return fallbackPageWidth, fallbackPageHeight
	}
	w = box.Index(2).Float64() - box.Index(0).Float64()
	h = box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return fallbackPageWidth, fallbackPageHeight
	}
	return w, h
}

// OCRPage renders one page to PNG, runs the OCR provider on it and maps
// the normalized word geometry into the source PDF coordinate system.
// Words that are empty after trimming are dropped. Shared by the inline
// path and the asynchronous OCR worker.
func OCRPage(ctx context.Context, provider providers.OCRProvider, pdfPath string, pageNum int, pageW, pageH float64, dpi int) (string, []records.BoundingBox, error) {
	image, err := render.Page(ctx, pdfPath, pageNum, dpi)
	if err != nil {
		return "", nil, fmt.Errorf("render page %d: %w", pageNum, err)
	}

	result, err := provider.ProcessPage(ctx, image, pageNum)
	if err != nil {
		return "", nil, fmt.Errorf("ocr page %d: %w", pageNum, err)
	}

	boxes := make([]records.BoundingBox, 0, len(result.Words))
	for _, word := range result.Words {
		value := strings.TrimSpace(word.Value)
		if value == "" {
			continue
		}
		boxes = append(boxes, records.BoxFromNormalized(value, word.X0, word.Y0, word.X1, word.Y1, pageW, pageH))
	}
	return result.Text, boxes, nil
}

// pageExtraction is the outcome of reading one PDF page's text layer.
type pageExtraction struct {
	text        string
	ocrRequired bool
	boxes       []records.BoundingBox
}

func (e *Engine) processPDF(ctx context.Context, req Request, meta records.Metadata, docID string) (Result, error) {
	reader, err := OpenPDF(req.Data)
	if err != nil {
		e.logger.Error("failed to open pdf", "file", req.Filename, "error", err)
		return Result{}, err
	}

	totalPages := reader.NumPage()
	var result Result

	// The temp copy is only materialized if a page actually needs inline
	// OCR; clean batches never touch disk.
	var pdfPath string
	var cleanup func()
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)

		text, err := PageText(ctx, page)
		if err != nil {
			e.logger.Warn("page text extraction failed", "file", req.Filename, "page", pageNum, "error", err)
		}

		extraction := pageExtraction{text: text}
		if e.cfg.Gibberish.IsGibberish(text) {
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.GibberishDetected(ctx, meta.Exchange)
			}
			extraction = e.handleGibberishPage(ctx, req, page, pageNum, text, &pdfPath, &cleanup)
		}

		rec := records.PageRecord{
			UniquePageID: records.UniquePageID(meta.Exchange, docID, pageNum),
			DocumentID:   docID,
			PageNumber:   pageNum,
			TotalPages:   totalPages,
			Text:         extraction.text,
			OCRRequired:  extraction.ocrRequired,
			S3Key:        req.S3Key,
			FileType:     records.FileTypePDF,
		}
		meta.Apply(&rec)

		if extraction.ocrRequired {
			result.BrokenPages = append(result.BrokenPages, pageNum)
			if len(extraction.boxes) > 0 && e.cfg.Boxes != nil && e.cfg.BBoxBucket != "" {
				bboxKey := fmt.Sprintf("ocr-bboxes/%s/%s/page_%d.json", strings.ToLower(meta.Exchange), docID, pageNum)
				if err := e.cfg.Boxes.UploadJSON(ctx, e.cfg.BBoxBucket, bboxKey, extraction.boxes); err != nil {
					e.logger.Error("failed to upload ocr bboxes", "key", bboxKey, "error", err)
				}
			}
		}

		result.Pages = append(result.Pages, rec)
	}

	if len(result.BrokenPages) > 0 {
		e.logger.Info("extracted pdf document",
			"file", req.Filename, "pages", len(result.Pages), "ocr_pages", result.BrokenPages)
	} else {
		e.logger.Info("extracted pdf document", "file", req.Filename, "pages", len(result.Pages))
	}
	return result, nil
}

// handleGibberishPage decides what a broken page emits: empty text when
// OCR is deferred to the queue, or the OCR output when running inline.
// An inline OCR failure falls back to the original gibberish text but
// still marks the page broken.
func (e *Engine) handleGibberishPage(ctx context.Context, req Request, page pdf.Page, pageNum int, original string, pdfPath *string, cleanup *func()) pageExtraction {
	if !e.cfg.InlineOCR || e.cfg.OCR == nil {
		e.logger.Info("gibberish detected, deferring ocr", "file", req.Filename, "page", pageNum)
		return pageExtraction{text: "", ocrRequired: true}
	}

	e.logger.Info("gibberish detected, running inline ocr", "file", req.Filename, "page", pageNum)

	if *pdfPath == "" {
		p, c, err := render.WriteTemp(req.Data)
		if err != nil {
			e.logger.Error("inline ocr unavailable", "file", req.Filename, "error", err)
			return pageExtraction{text: original, ocrRequired: true}
		}
		*pdfPath, *cleanup = p, c
	}

	pageW, pageH := PageSize(page)
	text, boxes, err := OCRPage(ctx, e.cfg.OCR, *pdfPath, pageNum, pageW, pageH, e.cfg.RenderDPI)
	if err != nil {
		e.logger.Error("inline ocr failed", "file", req.Filename, "page", pageNum, "error", err)
		return pageExtraction{text: original, ocrRequired: true}
	}
	return pageExtraction{text: text, ocrRequired: true, boxes: boxes}
}
