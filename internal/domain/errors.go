package domain

import "errors"

// Error kinds surfaced at the UI boundary. Each carries a machine-checkable
// identity (errors.Is) and a human-readable default message.
var (
	// ErrDispatchUnavailable means the worker for a document session could not
	// be constructed or has been shut down. Fatal for that session.
	ErrDispatchUnavailable = errors.New("dispatch unavailable")

	// ErrUnreadableDocument means the payload bytes could not be parsed.
	ErrUnreadableDocument = errors.New("unreadable document")

	// ErrPasswordProtected means the document requires a password to open.
	ErrPasswordProtected = errors.New("document is password protected")

	// ErrEmptyDocument means the document opened but contains zero pages.
	ErrEmptyDocument = errors.New("document has no pages")

	// ErrPageOutOfRange means a 1-based page number fell outside [1, pageCount].
	// Out-of-range requests fail, they are never clamped.
	ErrPageOutOfRange = errors.New("page number out of range")

	// ErrRenderFailure means a single page's bitmap could not be produced.
	// Logged and skipped; never aborts sibling pages.
	ErrRenderFailure = errors.New("page render failed")

	// ErrCacheCapacity means a negative cache capacity was requested.
	ErrCacheCapacity = errors.New("negative cache capacity")
)

// ErrorKind returns a stable identifier for the error taxonomy, suitable for
// API responses. Unrecognized errors map to "internal".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrDispatchUnavailable):
		return "dispatch_unavailable"
	case errors.Is(err, ErrUnreadableDocument):
		return "unreadable_document"
	case errors.Is(err, ErrPasswordProtected):
		return "password_protected"
	case errors.Is(err, ErrEmptyDocument):
		return "empty_document"
	case errors.Is(err, ErrPageOutOfRange):
		return "page_out_of_range"
	case errors.Is(err, ErrRenderFailure):
		return "render_failure"
	case errors.Is(err, ErrCacheCapacity):
		return "cache_capacity"
	default:
		return "internal"
	}
}

// IsDocumentError reports whether err is a per-document structural error,
// recoverable by retrying with a different file or password.
func IsDocumentError(err error) bool {
	return errors.Is(err, ErrUnreadableDocument) ||
		errors.Is(err, ErrPasswordProtected) ||
		errors.Is(err, ErrEmptyDocument) ||
		errors.Is(err, ErrPageOutOfRange)
}
