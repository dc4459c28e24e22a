// Package providers contains OCR provider clients. The pipeline treats
// OCR as an opaque service: hand it a rendered page image, get back text
// plus per-word geometry in normalized [0,1] coordinates.
package providers

import (
	"context"
	"time"
)

// OCRProvider handles image-to-text extraction for a single page.
type OCRProvider interface {
	// Name returns the provider identifier (e.g. "doctr").
	Name() string

	// ProcessPage extracts text and word geometry from a rendered page
	// image (PNG).
	ProcessPage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)

	// Warm primes the provider so the first real request does not pay
	// model cold-start latency. Best-effort.
	Warm(ctx context.Context) error
}

// OCRWord is one recognized word with its normalized bounding geometry.
// Coordinates are fractions of the page dimensions with the origin at the
// top left; callers scale them into the source coordinate system.
type OCRWord struct {
	Value string  `json:"word"`
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
}

// OCRResult is the outcome of OCRing one page.
type OCRResult struct {
	Text          string
	Words         []OCRWord
	ExecutionTime time.Duration
}
