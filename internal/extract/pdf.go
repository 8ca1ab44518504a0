// Package extract turns uploaded proposal documents into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	"github.com/ledongthuc/pdf"
)

// ErrExtraction is wrapped by every failure to read text from a document.
var ErrExtraction = errors.New("text extraction failed")

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether content starts with the PDF header.
func IsPDF(content []byte) bool {
	return bytes.HasPrefix(content, pdfMagic)
}

// PDFExtractor reads the text layer of PDF documents.
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDFExtractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// ExtractText returns the whitespace-normalized plain text of a PDF.
func (e *PDFExtractor) ExtractText(ctx context.Context, content []byte) (text string, err error) {
	if !IsPDF(content) {
		return "", fmt.Errorf("%w: missing PDF header", ErrExtraction)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: malformed PDF: %v", ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: open PDF: %v", ErrExtraction, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: read text: %v", ErrExtraction, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("%w: read text: %v", ErrExtraction, err)
	}

	return normalizeWhitespace(buf.String()), nil
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// DetectLanguage returns the ISO 639-3 code of text when detection is reliable, else "".
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6393()
}
