package failure

import (
	"errors"
	"fmt"
)

// Kind identifies the stage-level category of a failure
type Kind string

const (
	KindNone                     Kind = ""
	KindPermissionDenied         Kind = "PermissionDenied"
	KindDeviceActivationFailure  Kind = "DeviceActivationFailure"
	KindRecordingFailure         Kind = "RecordingFailure"
	KindEncodingFailure          Kind = "EncodingFailure"
	KindTransportError           Kind = "TransportError"
	KindInvalidJSON              Kind = "InvalidJson"
	KindMissingField             Kind = "MissingField"
	KindInvalidAudioEncoding     Kind = "InvalidAudioEncoding"
	KindPlaybackFailure          Kind = "PlaybackFailure"
	KindConcurrentUploadRejected Kind = "ConcurrentUploadRejected"
)

// ErrNotRecording is returned by Recorder.Stop when nothing was ever recorded
var ErrNotRecording = errors.New("not recording")

// Error is a failure tagged with its Kind
type Error struct {
	Kind       Kind
	StatusCode int // HTTP status for transport failures, 0 if none was received
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, failure.New(KindMissingField, nil)) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New wraps err with the given kind
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf formats a message and tags it with kind
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Transport builds a TransportError carrying the HTTP status (0 for connection failures)
func Transport(statusCode int, err error) *Error {
	return &Error{Kind: KindTransportError, StatusCode: statusCode, Err: err}
}

// KindOf extracts the Kind from err, or KindNone when err carries none
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNone
}

// StatusCode extracts the HTTP status attached to a transport failure
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
