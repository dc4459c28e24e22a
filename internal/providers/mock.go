package providers

import (
	"context"
	"fmt"
	"sync"
)

// MockOCR is a configurable OCRProvider for tests.
type MockOCR struct {
	mu sync.Mutex

	// TextForPage returns the text to emit for a page. If nil, a
	// deterministic placeholder is used.
	TextForPage func(pageNum int) string

	// Words returned for every page.
	Words []OCRWord

	// Err, when set, is returned from every ProcessPage call.
	Err error

	// WarmErr, when set, is returned from Warm.
	WarmErr error

	Calls  []int // page numbers in call order
	Warmed bool
}

// Name returns the provider identifier.
func (m *MockOCR) Name() string { return "mock" }

// Warm records the warmup call.
func (m *MockOCR) Warm(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Warmed = true
	return m.WarmErr
}

// ProcessPage returns the configured result.
func (m *MockOCR) ProcessPage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, pageNum)
	if m.Err != nil {
		return nil, m.Err
	}
	text := fmt.Sprintf("ocr text page %d", pageNum)
	if m.TextForPage != nil {
		text = m.TextForPage(pageNum)
	}
	return &OCRResult{Text: text, Words: m.Words}, nil
}
