// Package failure defines the error kinds surfaced to operators. Every
// remote-call failure is wrapped in an *Error so the handler boundary can
// pick the right user-facing message.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	AttachmentTooLarge
	DownloadFailure
	TranscriptionError
	GenerationError
	EmptyContent
	PersistenceFailure
)

func (k Kind) String() string {
	switch k {
	case AttachmentTooLarge:
		return "attachment too large"
	case DownloadFailure:
		return "download failure"
	case TranscriptionError:
		return "transcription error"
	case GenerationError:
		return "generation error"
	case EmptyContent:
		return "empty content"
	case PersistenceFailure:
		return "persistence failure"
	default:
		return "unknown"
	}
}

// Error is a classified failure of one operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err as a failure of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
