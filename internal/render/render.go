// Package render rasterizes single PDF pages for OCR input.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDPI balances OCR accuracy against render time and payload size.
const DefaultDPI = 200

// WriteTemp persists document bytes to a temp file so pages can be
// rendered from it. The caller owns cleanup via the returned function.
func WriteTemp(data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "filing-etl-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create temp pdf: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("close temp pdf: %w", err)
	}
	name := f.Name()
	return name, func() { os.Remove(name) }, nil
}

// Page renders one page of a PDF to PNG using pdftoppm (poppler-utils).
// pdftoppm renders the page content correctly, unlike extracting embedded
// image objects whose internal numbering may not match page order.
func Page(ctx context.Context, pdfPath string, pageNum, dpi int) ([]byte, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	tmpDir, err := os.MkdirTemp("", "filing-etl-page-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")

	// -singlefile drops the page-number suffix so the output path is
	// predictable.
	pageStr := fmt.Sprintf("%d", pageNum)
	cmd := commandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}
