package extract

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// File types reported by classification. Word documents are recognized by
// extension but have no extraction path, so they surface as unsupported.
const (
	TypePDF     = "pdf"
	TypeHTML    = "html"
	TypeDoc     = "doc"
	TypeUnknown = "unknown"
)

var gzipMagic = []byte{0x1f, 0x8b}

// ClassifyName determines the file type from a filename or object key
// extension.
func ClassifyName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return TypePDF
	case strings.HasSuffix(lower, ".htm"), strings.HasSuffix(lower, ".html"):
		return TypeHTML
	case strings.HasSuffix(lower, ".doc"), strings.HasSuffix(lower, ".docx"):
		return TypeDoc
	}
	return TypeUnknown
}

// ClassifyContent sniffs the file type from magic bytes. Gzip is
// transparent: compressed payloads are inflated once before sniffing.
func ClassifyContent(data []byte) string {
	data = DecompressIfGzip(data)

	if bytes.HasPrefix(data, []byte("%PDF")) {
		return TypePDF
	}

	head := data
	if len(head) > 1000 {
		head = head[:1000]
	}
	text := strings.ToLower(strings.TrimSpace(string(head)))
	if strings.HasPrefix(text, "<!doctype html") || strings.HasPrefix(text, "<html") {
		return TypeHTML
	}
	if strings.Contains(text, "<html") || strings.Contains(text, "<!doctype") {
		return TypeHTML
	}
	return TypeUnknown
}

// DecompressIfGzip inflates gzip data when the magic bytes match,
// otherwise returns the input unchanged. Corrupt gzip streams fall back
// to the raw bytes.
func DecompressIfGzip(data []byte) []byte {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return data
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return data
	}
	return out
}
