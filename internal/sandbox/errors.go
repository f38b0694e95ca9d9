package sandbox

import "errors"

var (
	// ErrInvalidPath is returned for paths that are malformed or carry a
	// volume marker.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathEscape is returned when a path canonicalizes to a location
	// outside the root. It wraps ErrInvalidPath.
	ErrPathEscape = &escapeError{}

	ErrInvalidName = errors.New("invalid name")
	ErrInvalidKind = errors.New("invalid entry type")
	ErrEmptyUpload = errors.New("empty upload")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
)

type escapeError struct{}

func (*escapeError) Error() string { return "path escapes sandbox root" }
func (*escapeError) Unwrap() error { return ErrInvalidPath }

// Kind classifies an error for the boundary layer.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// KindOf maps err onto the error taxonomy. Anything unrecognised is
// KindInternal. A nil error has no kind and also reports KindInternal, so
// callers check err first.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidKind),
		errors.Is(err, ErrEmptyUpload):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// Outcome returns the audit/metrics label for err ("ok" when nil).
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
