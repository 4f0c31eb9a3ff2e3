package extract

import (
	"context"
	"fmt"

	"github.com/eric-albuquer/invoice-etl/constants"
	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

// FileExtractor turns one source file into a validated Invoice.
type FileExtractor interface {
	Extract(ctx context.Context, path string) (entity.Invoice, error)
}

// ExtractionError is the typed failure of a single document.
type ExtractionError struct {
	Reason constants.Reason
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Source)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func fail(reason constants.Reason, source string, err error) *ExtractionError {
	return &ExtractionError{Reason: reason, Source: source, Err: err}
}

// Options tune the numeric parsing of table cells.
type Options struct {
	// StripThousandsSeparator removes commas from quantity cells ("1,200" -> 1200).
	StripThousandsSeparator bool
	// DecimalComma reads a comma in price cells as the decimal point ("9,99" -> 9.99).
	DecimalComma bool
}

// DefaultOptions match the behaviour of the existing invoice corpus.
func DefaultOptions() Options {
	return Options{StripThousandsSeparator: true, DecimalComma: true}
}
