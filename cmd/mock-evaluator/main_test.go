package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/evaluation"
	"github.com/skypro1111/voice-practice/internal/protocol"
)

func newTestEvaluator() *evaluator {
	return &evaluator{
		text:     "Nice",
		step:     60,
		toneHz:   440,
		toneSecs: 0.1,
		logger:   slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func TestEvaluatorRoundTrip(t *testing.T) {
	srv := httptest.NewServer(newTestEvaluator().routes())
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	client, err := evaluation.NewClient(evaluation.Config{Endpoint: srv.URL + "/evaluate"}, logger)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	wav, _ := audio.EncodeWAV(audio.GenerateTone(220, 0.1, audio.SampleRate), audio.SampleRate)
	path := filepath.Join(t.TempDir(), "rec.wav")
	os.WriteFile(path, wav, 0o600)

	request, err := protocol.Build(&audio.RecordingSession{FilePath: path}, protocol.NewBoundary(),
		protocol.FieldName, protocol.FileName, protocol.PartContentType)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for i, expected := range []float64{60, 100} {
		raw, err := client.Send(context.Background(), request)
		if err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}

		response, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("Decode %d failed: %v", i, err)
		}

		if response.Text != "Nice" {
			t.Errorf("Expected text Nice, got %q", response.Text)
		}
		if response.ProgressScore != expected {
			t.Errorf("Expected progress %v, got %v", expected, response.ProgressScore)
		}
		if err := audio.ValidateWAV(response.Audio); err != nil {
			t.Errorf("Expected reply audio to be valid WAV: %v", err)
		}
	}
}

func TestEvaluatorRejectsBadUploads(t *testing.T) {
	srv := httptest.NewServer(newTestEvaluator().routes())
	defer srv.Close()

	wav8k, _ := audio.EncodeWAV(audio.GenerateTone(220, 0.1, 8000), 8000)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		expected    int
	}{
		{"not multipart", "application/json", []byte(`{}`), http.StatusBadRequest},
		{"wrong field", "", nil, http.StatusBadRequest},
		{"not wav", "", []byte("plain text"), http.StatusUnprocessableEntity},
		{"wrong sample rate", "", wav8k, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := tt.body, tt.contentType
			if contentType == "" {
				field := protocol.FieldName
				if tt.body == nil {
					field = "other"
					tt.body = []byte("data")
				}
				req, err := protocol.BuildBytes(tt.body, "Boundary-test", field, protocol.FileName, protocol.PartContentType)
				if err != nil {
					t.Fatalf("BuildBytes failed: %v", err)
				}
				body, contentType = req.Body, req.ContentType()
			}

			resp, err := http.Post(srv.URL+"/evaluate", contentType, bytes.NewReader(body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, resp.StatusCode)
			}
		})
	}
}

func TestPeakAmplitude(t *testing.T) {
	if got := peakAmplitude([]int16{3, -900, 12}); got != 900 {
		t.Errorf("Expected 900, got %d", got)
	}
	if got := peakAmplitude(nil); got != 0 {
		t.Errorf("Expected 0 for no samples, got %d", got)
	}
}
