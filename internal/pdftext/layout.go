package pdftext

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reColumnGap  = regexp.MustCompile(`\t+| {2,}`)
)

// Normalize fixes line endings, trims trailing spaces and collapses runs of blank lines.
// Inner runs of spaces are kept: they carry the column layout.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.Trim(s, "\n")
}

// SplitCells splits a layout line into cells on tabs or runs of two or more spaces.
func SplitCells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	parts := reColumnGap.Split(line, -1)
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

// Header tokens a product table header row contains (case-insensitive substring match).
const (
	productToken  = "product"
	quantityToken = "quantity"
)

// IsProductHeader reports whether cells read as a product table header row.
func IsProductHeader(cells []string) bool {
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		if c != "" {
			parts = append(parts, strings.ToLower(c))
		}
	}
	header := strings.Join(parts, " ")
	return strings.Contains(header, productToken) && strings.Contains(header, quantityToken)
}

// TablesFromLayout finds tables in layout-preserving text. A table is a run of
// lines that each split into at least two cells. A single blank line does not
// end a table, since pdftotext spaces out rows that way. A product header row
// always starts a new table so multi-column lines above it stay separate.
func TablesFromLayout(text string) []Table {
	var tables []Table
	var current Table
	closeTable := func() {
		if len(current) > 0 {
			tables = append(tables, current)
			current = nil
		}
	}
	blanks := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks > 1 {
				closeTable()
			}
			continue
		}
		blanks = 0
		cells := SplitCells(line)
		if len(cells) < 2 {
			closeTable()
			continue
		}
		if IsProductHeader(cells) {
			closeTable()
		}
		current = append(current, cells)
	}
	closeTable()
	return tables
}
