package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/skypro1111/voice-practice/internal/failure"
)

// ServerResponse is a validated evaluation result
type ServerResponse struct {
	Text          string  `json:"text"`
	Audio         []byte  `json:"-"`
	ProgressScore float64 `json:"progress"`
}

// Decode validates a raw response body. Checks run in order: the body must
// be a JSON object, then text, audio and progress must be present with the
// right types, then audio must be standard base64. Unknown fields are ignored.
func Decode(raw []byte) (*ServerResponse, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, failure.New(failure.KindInvalidJSON, fmt.Errorf("response is not a JSON object: %w", err))
	}
	if fields == nil {
		return nil, failure.Newf(failure.KindInvalidJSON, "response is not a JSON object")
	}

	var text, encoded string
	var progress float64

	if err := field(fields, "text", &text); err != nil {
		return nil, err
	}
	if err := field(fields, "audio", &encoded); err != nil {
		return nil, err
	}
	if err := field(fields, "progress", &progress); err != nil {
		return nil, err
	}

	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, failure.New(failure.KindInvalidAudioEncoding, fmt.Errorf("audio is not valid base64: %w", err))
	}

	return &ServerResponse{
		Text:          text,
		Audio:         audio,
		ProgressScore: progress,
	}, nil
}

// field decodes a required member; absent, null and mistyped all count as missing
func field(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return failure.Newf(failure.KindMissingField, "missing field %q", name)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return failure.New(failure.KindMissingField, fmt.Errorf("field %q has the wrong type: %w", name, err))
	}

	return nil
}
