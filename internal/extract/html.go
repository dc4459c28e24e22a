package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// strippedTags are removed wholesale before text collection.
var strippedTags = map[string]bool{
	"script": true,
	"style":  true,
	"head":   true,
	"meta":   true,
	"link":   true,
}

// htmlToText decodes HTML bytes and flattens the document to plain text:
// one line per text node, trimmed, with runs of blank lines collapsed.
func htmlToText(data []byte) (string, error) {
	data = DecompressIfGzip(data)

	doc, err := html.Parse(strings.NewReader(decodeText(data)))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strippedTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.Join(parts, "\n")
	return excessNewlines.ReplaceAllString(text, "\n\n"), nil
}

// decodeText converts document bytes to a UTF-8 string, trying the
// encodings Asian exchanges actually serve: utf-8, gb2312, big5, then
// latin-1. Latin-1 maps every byte, so the chain always terminates.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	for _, enc := range []encoding.Encoding{
		simplifiedchinese.GBK,
		traditionalchinese.Big5,
	} {
		out, err := enc.NewDecoder().Bytes(data)
		// x/text decoders substitute U+FFFD instead of failing; treat
		// any substitution as a wrong-codec signal and try the next.
		if err == nil && !strings.ContainsRune(string(out), utf8.RuneError) {
			return string(out)
		}
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err == nil {
		return string(out)
	}
	return strings.ToValidUTF8(string(data), "�")
}
