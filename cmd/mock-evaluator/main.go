// Command mock-evaluator is a local stand-in for the evaluation service.
// It accepts the practice upload and answers with a fixed text, a short
// synthesized tone and a progress score that rises with every attempt.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/protocol"
)

type evaluationResponse struct {
	Text     string  `json:"text"`
	Audio    string  `json:"audio"`
	Progress float64 `json:"progress"`
}

type evaluator struct {
	text     string
	delay    time.Duration
	step     float64
	toneHz   float64
	toneSecs float64
	logger   *slog.Logger

	mu       sync.Mutex
	attempts int
}

func (e *evaluator) nextProgress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	return math.Min(100, float64(e.attempts)*e.step)
}

func (e *evaluator) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		http.Error(w, "expected multipart/form-data", http.StatusBadRequest)
		return
	}

	part, err := protocol.ExtractFile(http.MaxBytesReader(w, r.Body, 50<<20), params["boundary"], protocol.FieldName)
	if err != nil {
		e.logger.Warn("Rejected upload", slog.String("error", err.Error()))
		http.Error(w, "missing audio file", http.StatusBadRequest)
		return
	}

	samples, sampleRate, err := audio.DecodeWAV(part.Data)
	if err != nil {
		e.logger.Warn("Rejected upload", slog.String("error", err.Error()))
		http.Error(w, "invalid WAV", http.StatusUnprocessableEntity)
		return
	}

	if sampleRate != audio.SampleRate {
		http.Error(w, "unsupported sample rate", http.StatusUnprocessableEntity)
		return
	}

	e.logger.Info("Upload received",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("filename", part.FileName),
		slog.String("content_type", part.ContentType),
		slog.Int("size", len(part.Data)),
		slog.Float64("duration", float64(len(samples))/float64(sampleRate)),
		slog.Int("peak", peakAmplitude(samples)),
	)

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-r.Context().Done():
			return
		}
	}

	reply, err := audio.EncodeWAV(audio.GenerateTone(e.toneHz, e.toneSecs, audio.SampleRate), audio.SampleRate)
	if err != nil {
		http.Error(w, "failed to synthesize reply", http.StatusInternalServerError)
		return
	}

	response := evaluationResponse{
		Text:     e.text,
		Audio:    base64.StdEncoding.EncodeToString(reply),
		Progress: e.nextProgress(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	e.logger.Info("Evaluation sent", slog.Float64("progress", response.Progress))
}

func peakAmplitude(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

func (e *evaluator) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/evaluate", e.handleUpload)
	return r
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	text := flag.String("text", "Good pronunciation, keep practicing", "Response text")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	step := flag.Float64("step", 10, "Progress added per attempt")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	e := &evaluator{
		text:     *text,
		delay:    *delay,
		step:     *step,
		toneHz:   440,
		toneSecs: 0.5,
		logger:   logger,
	}

	logger.Info("Mock evaluator starting",
		slog.String("address", *addr),
		slog.String("endpoint", "/evaluate"),
	)

	if err := http.ListenAndServe(*addr, e.routes()); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
