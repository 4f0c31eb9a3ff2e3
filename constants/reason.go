package constants

// Reason is the canonical name of a per-document extraction failure.
type Reason string

// Stable values (these exact strings appear in logs and run summaries).
const (
	ReasonHeaderNotRecognized  Reason = "HeaderNotRecognized"
	ReasonInvalidDateFormat    Reason = "InvalidDateFormat"
	ReasonProductTableNotFound Reason = "ProductTableNotFound"
	ReasonNoValidItems         Reason = "NoValidItems"
	ReasonItemValidationFailed Reason = "ItemValidationFailed"
	ReasonDocumentUnreadable   Reason = "DocumentUnreadable"
	ReasonTimeout              Reason = "Timeout"
	ReasonCanceled             Reason = "Canceled"
)

// DateLayout is the calendar date format used in documents and the durable store.
const DateLayout = "2006-01-02"
