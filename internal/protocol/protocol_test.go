package protocol

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/failure"
)

func writeRecording(t *testing.T) (*audio.RecordingSession, []byte) {
	t.Helper()
	data, err := audio.EncodeWAV(audio.GenerateTone(440, 0.05, audio.SampleRate), audio.SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "recording.wav")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	return &audio.RecordingSession{ID: "rec-1", FilePath: path, Bytes: int64(len(data) - audio.HeaderSize)}, data
}

func TestBuildLayout(t *testing.T) {
	boundary := "Boundary-test"
	req, err := BuildBytes([]byte("PAYLOAD"), boundary, FieldName, FileName, PartContentType)
	if err != nil {
		t.Fatalf("BuildBytes failed: %v", err)
	}

	body := string(req.Body)

	if !strings.HasPrefix(body, "--Boundary-test\r\n") {
		t.Errorf("Expected body to open with the boundary delimiter, got %q", body[:20])
	}

	if !strings.Contains(body, `Content-Disposition: form-data; name="file"; filename="recording.wav"`+"\r\n") {
		t.Error("Expected Content-Disposition header for the file part")
	}

	if !strings.Contains(body, "Content-Type: audio/wave\r\n\r\nPAYLOAD") {
		t.Error("Expected part content type followed by a blank line and the payload")
	}

	if !strings.HasSuffix(body, "PAYLOAD\r\n--Boundary-test--\r\n") {
		t.Errorf("Expected closing delimiter, got %q", body[len(body)-30:])
	}

	if req.ContentType() != "multipart/form-data; boundary=Boundary-test" {
		t.Errorf("Unexpected content type %q", req.ContentType())
	}
}

func TestBuildDeterministic(t *testing.T) {
	session, _ := writeRecording(t)

	first, err := Build(session, "Boundary-fixed", FieldName, FileName, PartContentType)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	second, err := Build(session, "Boundary-fixed", FieldName, FileName, PartContentType)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !bytes.Equal(first.Body, second.Body) {
		t.Error("Expected identical bodies for the same boundary")
	}
}

func TestBuildRoundTrip(t *testing.T) {
	session, original := writeRecording(t)
	boundary := NewBoundary()

	req, err := Build(session, boundary, FieldName, FileName, PartContentType)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	part, err := ExtractFile(bytes.NewReader(req.Body), req.Boundary, FieldName)
	if err != nil {
		t.Fatalf("ExtractFile failed: %v", err)
	}

	if !bytes.Equal(part.Data, original) {
		t.Error("Expected extracted audio to be byte-identical to the recording")
	}

	if part.FileName != FileName {
		t.Errorf("Expected filename %s, got %s", FileName, part.FileName)
	}

	if part.ContentType != PartContentType {
		t.Errorf("Expected content type %s, got %s", PartContentType, part.ContentType)
	}
}

func TestBuildUnreadableFile(t *testing.T) {
	session := &audio.RecordingSession{FilePath: filepath.Join(t.TempDir(), "missing.wav")}

	_, err := Build(session, NewBoundary(), FieldName, FileName, PartContentType)
	if failure.KindOf(err) != failure.KindEncodingFailure {
		t.Errorf("Expected EncodingFailure, got %v", err)
	}

	if _, err := Build(nil, NewBoundary(), FieldName, FileName, PartContentType); failure.KindOf(err) != failure.KindEncodingFailure {
		t.Errorf("Expected EncodingFailure for nil session, got %v", err)
	}
}

func TestNewBoundary(t *testing.T) {
	a, b := NewBoundary(), NewBoundary()

	if a == b {
		t.Error("Expected distinct boundaries")
	}

	if !strings.HasPrefix(a, "Boundary-") {
		t.Errorf("Expected Boundary- prefix, got %s", a)
	}
}

func TestBuildBoundaryLength(t *testing.T) {
	tests := []struct {
		name     string
		boundary string
		valid    bool
	}{
		{"generated", NewBoundary(), true},
		{"max length", strings.Repeat("b", maxBoundaryBytes), true},
		{"too long", strings.Repeat("b", maxBoundaryBytes+1), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildBytes([]byte("RIFF"), tt.boundary, FieldName, FileName, PartContentType)
			if tt.valid && err != nil {
				t.Errorf("Expected boundary to be accepted, got %v", err)
			}
			if !tt.valid && failure.KindOf(err) != failure.KindEncodingFailure {
				t.Errorf("Expected EncodingFailure, got %v", err)
			}
		})
	}
}

func TestExtractFileMissingPart(t *testing.T) {
	req, _ := BuildBytes([]byte("x"), "Boundary-x", "other", FileName, PartContentType)

	if _, err := ExtractFile(bytes.NewReader(req.Body), req.Boundary, FieldName); err == nil {
		t.Error("Expected error when the file part is absent")
	}
}

func TestDecode(t *testing.T) {
	wav, _ := audio.EncodeWAV([]int16{1, 2, 3}, audio.SampleRate)
	encoded := base64.StdEncoding.EncodeToString(wav)

	tests := []struct {
		name     string
		raw      string
		kind     failure.Kind
		text     string
		progress float64
	}{
		{
			name:     "valid",
			raw:      `{"text":"Hello","audio":"` + encoded + `","progress":42}`,
			text:     "Hello",
			progress: 42,
		},
		{
			name:     "unknown fields ignored",
			raw:      `{"text":"Hi","audio":"` + encoded + `","progress":87.5,"extra":{"a":1}}`,
			text:     "Hi",
			progress: 87.5,
		},
		{name: "not json", raw: `Hello`, kind: failure.KindInvalidJSON},
		{name: "json array", raw: `[1,2]`, kind: failure.KindInvalidJSON},
		{name: "json null", raw: `null`, kind: failure.KindInvalidJSON},
		{name: "missing audio", raw: `{"text":"Hello","progress":42}`, kind: failure.KindMissingField},
		{name: "missing text", raw: `{"audio":"` + encoded + `","progress":42}`, kind: failure.KindMissingField},
		{name: "missing progress", raw: `{"text":"Hello","audio":"` + encoded + `"}`, kind: failure.KindMissingField},
		{name: "progress as string", raw: `{"text":"Hello","audio":"` + encoded + `","progress":"42"}`, kind: failure.KindMissingField},
		{name: "text null", raw: `{"text":null,"audio":"` + encoded + `","progress":42}`, kind: failure.KindMissingField},
		{name: "audio as number", raw: `{"text":"Hello","audio":5,"progress":42}`, kind: failure.KindMissingField},
		{name: "bad base64", raw: `{"text":"Hello","audio":"not base64!","progress":42}`, kind: failure.KindInvalidAudioEncoding},
		{name: "missing field wins over bad base64", raw: `{"text":"Hello","audio":"!!!"}`, kind: failure.KindMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Decode([]byte(tt.raw))

			if tt.kind != failure.KindNone {
				if failure.KindOf(err) != tt.kind {
					t.Errorf("Expected %s, got %v", tt.kind, err)
				}
				if resp != nil {
					t.Error("Expected no response on failure")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if resp.Text != tt.text {
				t.Errorf("Expected text %q, got %q", tt.text, resp.Text)
			}

			if resp.ProgressScore != tt.progress {
				t.Errorf("Expected progress %v, got %v", tt.progress, resp.ProgressScore)
			}

			if !bytes.Equal(resp.Audio, wav) {
				t.Error("Expected decoded audio to match the encoded WAV")
			}
		})
	}
}
