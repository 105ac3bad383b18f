package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("handler: %w", New(TranscriptionError, "transcribe", base))

	if got := KindOf(err); got != TranscriptionError {
		t.Errorf("KindOf = %v, want %v", got, TranscriptionError)
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if !Is(err, TranscriptionError) {
		t.Error("Is(TranscriptionError) = false")
	}
	if Is(err, GenerationError) {
		t.Error("Is(GenerationError) = true")
	}
}

func TestKindOf_Plain(t *testing.T) {
	if got := KindOf(errors.New("x")); got != Unknown {
		t.Errorf("KindOf(plain) = %v, want Unknown", got)
	}
	if Is(nil, Unknown) {
		t.Error("Is(nil) should be false")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(DownloadFailure, "stage", context.DeadlineExceeded)
	want := "stage: download failure: context deadline exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	bare := New(EmptyContent, "commit", nil)
	if bare.Error() != "commit: empty content" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		AttachmentTooLarge: "attachment too large",
		PersistenceFailure: "persistence failure",
		Kind(99):           "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(k), k.String(), want)
		}
	}
}
