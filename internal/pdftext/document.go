package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Backend names accepted by Config.Backend.
const (
	BackendNative    = "native"
	BackendPdftotext = "pdftotext"
)

// Table is a block of rows of raw cells; the first row is the header.
type Table [][]string

// Page is the text and tabular content of one document page.
// A blank or image-only page has empty Text and no Tables.
type Page struct {
	Number int
	Text   string
	Tables []Table
}

// Document is the loaded content of one source file.
type Document struct {
	Path  string
	Pages []Page
}

// Text joins the text of all non-blank pages with newlines.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

// Loader turns a file into a Document.
type Loader interface {
	Load(ctx context.Context, path string) (*Document, error)
}

type Config struct {
	Backend   string // BackendNative | BackendPdftotext; "" -> native
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	MaxPages  int    // 0 = no limit
}

// NewLoader builds the Loader selected by cfg.Backend.
func NewLoader(cfg Config, logger *slog.Logger) (Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNative:
		return NewNativeLoader(cfg, logger), nil
	case BackendPdftotext:
		return NewPopplerLoader(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported pdf backend: %q", cfg.Backend)
	}
}

// buildPage normalizes raw page text and derives its tables.
func buildPage(number int, raw string) Page {
	text := Normalize(raw)
	return Page{
		Number: number,
		Text:   text,
		Tables: TablesFromLayout(text),
	}
}
