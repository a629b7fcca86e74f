package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-practice/internal/failure"
)

// Format describes the PCM stream a capture source must deliver
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// CaptureFormat is the fixed recording format
var CaptureFormat = Format{SampleRate: SampleRate, Channels: Channels, BitsPerSample: BitsPerSample}

// CaptureSource opens a microphone stream. The returned reader yields
// little-endian PCM bytes in the requested format and returns io.EOF when
// the device stops producing audio. Close must unblock a pending Read.
type CaptureSource interface {
	Open(ctx context.Context, format Format) (io.ReadCloser, error)
}

// RecordingSession describes a completed capture. It is immutable once returned by Stop.
type RecordingSession struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Bytes     int64     `json:"bytes"`
	PeakLevel float64   `json:"peak_level"`
}

// Duration returns the length of captured audio
func (s *RecordingSession) Duration() time.Duration {
	samples := s.Bytes / BytesPerSample
	return time.Duration(samples) * time.Second / SampleRate
}

// RecordingHandle refers to an in-progress capture
type RecordingHandle struct {
	id        string
	path      string
	startedAt time.Time

	file   *os.File
	stream io.ReadCloser
	meter  *LevelMeter

	bytes    atomic.Int64
	stopping atomic.Bool
	readErr  error // written by the capture goroutine before done is closed

	done     chan struct{}
	doneOnce sync.Once
}

// ID returns the recording session id
func (h *RecordingHandle) ID() string { return h.id }

// Path returns the destination file
func (h *RecordingHandle) Path() string { return h.path }

// Done is closed once when the capture stream ends, either on its own or because Stop was called
func (h *RecordingHandle) Done() <-chan struct{} { return h.done }

// Bytes returns the number of PCM bytes captured so far
func (h *RecordingHandle) Bytes() int64 { return h.bytes.Load() }

func (h *RecordingHandle) capture() {
	defer h.doneOnce.Do(func() { close(h.done) })

	buf := make([]byte, 8192)
	for {
		n, err := h.stream.Read(buf)
		if n > 0 {
			offset := HeaderSize + h.bytes.Load()
			if _, werr := h.file.WriteAt(buf[:n], offset); werr != nil {
				h.readErr = fmt.Errorf("failed to write recording: %w", werr)
				return
			}
			h.meter.Write(buf[:n])
			h.bytes.Add(int64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || h.stopping.Load() {
				return
			}
			h.readErr = fmt.Errorf("capture device read failed: %w", err)
			return
		}
	}
}

// Recorder captures microphone input into WAV files
type Recorder struct {
	source CaptureSource
	device *DeviceManager
	logger *slog.Logger

	mu      sync.Mutex
	current *RecordingHandle
	last    *RecordingSession
}

// NewRecorder creates a recorder reading from source and sharing device with the player
func NewRecorder(source CaptureSource, device *DeviceManager, logger *slog.Logger) *Recorder {
	return &Recorder{
		source: source,
		device: device,
		logger: logger,
	}
}

// Start begins capturing into dest. The device must already be active.
func (r *Recorder) Start(ctx context.Context, dest string) (*RecordingHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return nil, failure.Newf(failure.KindRecordingFailure, "recording %s already in progress", r.current.id)
	}

	if err := r.device.Claim(HolderRecorder); err != nil {
		return nil, failure.New(failure.KindRecordingFailure, err)
	}

	file, err := os.Create(dest)
	if err != nil {
		r.device.Release(HolderRecorder)
		return nil, failure.New(failure.KindRecordingFailure, fmt.Errorf("failed to create recording file: %w", err))
	}

	if err := WriteHeader(file, SampleRate, 0); err != nil {
		file.Close()
		os.Remove(dest)
		r.device.Release(HolderRecorder)
		return nil, failure.New(failure.KindRecordingFailure, err)
	}

	stream, err := r.source.Open(ctx, CaptureFormat)
	if err != nil {
		file.Close()
		os.Remove(dest)
		r.device.Release(HolderRecorder)
		return nil, failure.New(failure.KindRecordingFailure, fmt.Errorf("failed to open capture device: %w", err))
	}

	h := &RecordingHandle{
		id:        uuid.NewString(),
		path:      dest,
		startedAt: time.Now(),
		file:      file,
		stream:    stream,
		meter:     NewLevelMeter(SampleRate / 20), // 50ms windows
		done:      make(chan struct{}),
	}
	r.current = h

	go h.capture()

	r.logger.Info("Recording started",
		slog.String("recording_id", h.id),
		slog.String("file", dest),
		slog.Int("sample_rate", SampleRate),
	)

	return h, nil
}

// Stop ends the capture for handle and returns the finished session.
// When nothing is recording it returns the last completed session, or
// failure.ErrNotRecording if there is none.
func (r *Recorder) Stop(h *RecordingHandle) (*RecordingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil || (h != nil && h != r.current) {
		if r.last != nil && (h == nil || h.id == r.last.ID) {
			return r.last, nil
		}
		return nil, failure.ErrNotRecording
	}

	h = r.current
	r.current = nil

	h.stopping.Store(true)
	closeErr := h.stream.Close()
	<-h.done

	defer r.device.Release(HolderRecorder)

	captured := h.bytes.Load()
	stoppedAt := time.Now()

	fail := func(err error) (*RecordingSession, error) {
		h.file.Close()
		os.Remove(h.path)
		r.logger.Warn("Recording failed",
			slog.String("recording_id", h.id),
			slog.Int64("bytes", captured),
			slog.String("error", err.Error()),
		)
		return nil, failure.New(failure.KindRecordingFailure, err)
	}

	if h.readErr != nil {
		return fail(h.readErr)
	}

	// A trailing half sample cannot be played; drop it so the data chunk
	// stays sample aligned and needs no pad byte
	if odd := captured % BytesPerSample; odd != 0 {
		captured -= odd
		if err := h.file.Truncate(HeaderSize + captured); err != nil {
			return fail(fmt.Errorf("failed to trim partial sample: %w", err))
		}
	}

	if captured == 0 {
		if closeErr != nil {
			return fail(fmt.Errorf("no audio captured: %w", closeErr))
		}
		return fail(fmt.Errorf("no audio captured"))
	}

	if err := WriteHeader(h.file, SampleRate, uint32(captured)); err != nil {
		return fail(err)
	}

	if err := h.file.Close(); err != nil {
		os.Remove(h.path)
		return nil, failure.New(failure.KindRecordingFailure, fmt.Errorf("failed to close recording file: %w", err))
	}

	session := &RecordingSession{
		ID:        h.id,
		FilePath:  h.path,
		StartedAt: h.startedAt,
		StoppedAt: stoppedAt,
		Bytes:     captured,
		PeakLevel: h.meter.Peak(),
	}
	r.last = session

	r.logger.Info("Recording stopped",
		slog.String("recording_id", session.ID),
		slog.Int64("bytes", session.Bytes),
		slog.Duration("duration", session.Duration()),
		slog.Float64("peak_level", session.PeakLevel),
	)

	return session, nil
}

// IsRecording reports whether a capture is in progress
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// LastSession returns the most recently completed recording, if any
func (r *Recorder) LastSession() *RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
