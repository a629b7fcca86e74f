package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")
	wrapped := fmt.Errorf("upload stage: %w", New(KindEncodingFailure, cause))

	if got := KindOf(wrapped); got != KindEncodingFailure {
		t.Errorf("Expected kind %s, got %s", KindEncodingFailure, got)
	}

	if !errors.Is(wrapped, cause) {
		t.Error("Expected wrapped error to unwrap to its cause")
	}

	if got := KindOf(cause); got != KindNone {
		t.Errorf("Expected no kind for plain error, got %q", got)
	}

	if got := KindOf(nil); got != KindNone {
		t.Errorf("Expected no kind for nil, got %q", got)
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := Newf(KindMissingField, "field %q missing", "audio")

	if !errors.Is(err, New(KindMissingField, nil)) {
		t.Error("Expected errors.Is to match on kind")
	}

	if errors.Is(err, New(KindInvalidJSON, nil)) {
		t.Error("Expected errors.Is not to match a different kind")
	}
}

func TestTransportStatus(t *testing.T) {
	err := fmt.Errorf("send: %w", Transport(503, errors.New("service unavailable")))

	if KindOf(err) != KindTransportError {
		t.Errorf("Expected TransportError, got %s", KindOf(err))
	}

	if StatusCode(err) != 503 {
		t.Errorf("Expected status 503, got %d", StatusCode(err))
	}

	want := "TransportError (status 503): service unavailable"
	if got := errors.Unwrap(err).Error(); got != want {
		t.Errorf("Expected message %q, got %q", want, got)
	}
}
