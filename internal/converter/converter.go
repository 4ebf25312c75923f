// Package converter turns raw resource bytes into plain text. Conversion
// never fails: unreadable or unsupported input degrades to empty text, and
// the pipeline decides downstream what an empty extraction means.
package converter

import (
	"bytes"
	"io"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// Result is the conversion output. On failure Text is "" and FileSize is 0.
type Result struct {
	Text     string
	FileSize int64
}

type Converter struct{}

func NewConverter() *Converter {
	return &Converter{}
}

// Convert extracts plain text from a file blob based on its sniffed type.
func (c *Converter) Convert(data []byte) Result {
	if len(data) == 0 {
		return Result{}
	}

	mime := mimetype.Detect(data)
	size := int64(len(data))

	switch {
	case mime.Is("application/pdf"):
		text, err := extractPDFText(data)
		if err != nil {
			log.Printf("converter: pdf extraction failed: %v", err)
			return Result{}
		}
		return Result{Text: text, FileSize: size}
	case mime.Is("text/html"):
		return Result{Text: stripHTML(string(data)), FileSize: size}
	case strings.HasPrefix(mime.String(), "text/"), mime.Is("application/json"), mime.Is("application/xml"):
		if !utf8.Valid(data) {
			return Result{}
		}
		return Result{Text: strings.TrimSpace(string(data)), FileSize: size}
	default:
		log.Printf("converter: unsupported mime type %s", mime.String())
		return Result{}
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

// stripHTML drops tags, scripts and styles, collapsing the remaining text.
// Good enough for scraped pages; a full DOM parse is the chunker service's
// job on the delegated path.
func stripHTML(s string) string {
	var sb strings.Builder
	inTag := false
	skipDepth := 0
	lower := strings.ToLower(s)

	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '<':
			inTag = true
			if strings.HasPrefix(lower[i:], "<script") || strings.HasPrefix(lower[i:], "<style") {
				skipDepth++
			} else if strings.HasPrefix(lower[i:], "</script") || strings.HasPrefix(lower[i:], "</style") {
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case s[i] == '>':
			inTag = false
			sb.WriteByte(' ')
		case !inTag && skipDepth == 0:
			sb.WriteByte(s[i])
		}
	}

	return strings.TrimSpace(strings.Join(strings.Fields(sb.String()), " "))
}
