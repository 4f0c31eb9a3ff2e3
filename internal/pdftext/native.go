package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Gaps between text runs, as multiples of the font size.
const (
	wordGapRatio   = 0.15
	columnGapRatio = 1.2
)

// NativeLoader reads documents in-process with ledongthuc/pdf.
type NativeLoader struct {
	cfg    Config
	logger *slog.Logger
}

func NewNativeLoader(cfg Config, logger *slog.Logger) *NativeLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeLoader{cfg: cfg, logger: logger}
}

func (l *NativeLoader) Load(ctx context.Context, path string) (doc *Document, err error) {
	// the parser panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("pdf parse %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdf open: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			l.logger.Warn("failed to close pdf", "path", path, "error", cerr)
		}
	}()

	total := r.NumPage()
	if l.cfg.MaxPages > 0 && total > l.cfg.MaxPages {
		total = l.cfg.MaxPages
	}

	doc = &Document{Path: path, Pages: make([]Page, 0, total)}
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			doc.Pages = append(doc.Pages, Page{Number: i})
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			l.logger.Warn("page text unavailable", "path", path, "page", i, "error", err)
			doc.Pages = append(doc.Pages, Page{Number: i})
			continue
		}
		doc.Pages = append(doc.Pages, buildPage(i, layoutFromRows(rows)))
	}
	l.logger.Debug("pdf loaded", "path", path, "backend", BackendNative, "pages", len(doc.Pages))
	return doc, nil
}

// layoutFromRows rebuilds layout text from positioned text runs, top row first.
// Wide horizontal gaps become two-space column separators.
func layoutFromRows(rows pdf.Rows) string {
	sorted := append(pdf.Rows(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position > sorted[j].Position })

	lines := make([]string, 0, len(sorted))
	for _, row := range sorted {
		runs := append(pdf.TextHorizontal(nil), row.Content...)
		sort.SliceStable(runs, func(i, j int) bool { return runs[i].X < runs[j].X })
		lines = append(lines, joinRuns(runs))
	}
	return strings.Join(lines, "\n")
}

func joinRuns(runs []pdf.Text) string {
	var b strings.Builder
	var prevEnd float64
	for n, t := range runs {
		if n > 0 {
			size := t.FontSize
			if size <= 0 {
				size = 10
			}
			switch gap := t.X - prevEnd; {
			case gap > columnGapRatio*size:
				b.WriteString("  ")
			case gap > wordGapRatio*size:
				b.WriteString(" ")
			}
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	return b.String()
}
