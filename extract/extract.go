// Package extract pulls plain text out of uploaded module
// descriptions so they can be fed to the parse and match flows.
// Supported formats are PDF and plain text.
package extract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned for file types extract cannot read.
var ErrUnsupportedFormat = errors.New("extract: unsupported file format")

// Result holds the extracted text plus light provenance.
type Result struct {
	Text   string `json:"text"`
	Format string `json:"format"`
	Pages  int    `json:"pages,omitempty"`
	Chars  int    `json:"chars"`
}

// File extracts text from a file on disk, dispatching on the
// extension.
func File(path string) (*Result, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "pdf":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening pdf: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat pdf: %w", err)
		}
		return PDF(f, info.Size())
	case "txt", "md", "text", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading text file: %w", err)
		}
		return Plain(string(data)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// Reader extracts text from an in-memory upload. format is the lower
// case extension without the dot ("pdf", "txt").
func Reader(r io.ReaderAt, size int64, format string) (*Result, error) {
	switch strings.ToLower(format) {
	case "pdf":
		return PDF(r, size)
	case "txt", "md", "text":
		buf := make([]byte, size)
		if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
		return Plain(string(buf)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// PDF extracts the text of every page in order. Pages whose
// extraction fails are skipped rather than failing the whole document;
// scanned PDFs without a text layer come back empty.
func PDF(r io.ReaderAt, size int64) (*Result, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("parsing pdf: %w", err)
	}

	var b strings.Builder
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	text := b.String()
	return &Result{Text: text, Format: "pdf", Pages: total, Chars: len(text)}, nil
}

// Plain wraps already-plain text in a Result, normalizing Windows
// line endings.
func Plain(text string) *Result {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	return &Result{Text: text, Format: "txt", Chars: len(text)}
}
