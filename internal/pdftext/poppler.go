package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// PopplerLoader reads documents with poppler's pdftotext in layout mode.
type PopplerLoader struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewPopplerLoader(cfg Config, logger *slog.Logger) *PopplerLoader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	return &PopplerLoader{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner (tests).
func (l *PopplerLoader) WithRunner(r Runner) *PopplerLoader {
	l.runner = r
	return l
}

func (l *PopplerLoader) Load(ctx context.Context, path string) (*Document, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := l.runner.Run(ctx, l.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("pdftotext: %w: %s", err, strings.TrimSpace(tail(errb, 512)))
	}

	// A form-feed \f terminates every page.
	raw := strings.Split(string(out), "\f")
	if n := len(raw); n > 1 && strings.TrimSpace(raw[n-1]) == "" {
		raw = raw[:n-1]
	}
	if l.cfg.MaxPages > 0 && len(raw) > l.cfg.MaxPages {
		raw = raw[:l.cfg.MaxPages]
	}

	doc := &Document{Path: path, Pages: make([]Page, 0, len(raw))}
	for i, text := range raw {
		doc.Pages = append(doc.Pages, buildPage(i+1, text))
	}
	l.logger.Debug("pdf loaded", "path", path, "backend", BackendPdftotext, "pages", len(doc.Pages))
	return doc, nil
}
