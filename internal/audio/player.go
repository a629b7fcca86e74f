package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-practice/internal/failure"
)

// OutputSink renders PCM audio. Render blocks until the audio has finished
// playing or ctx is cancelled.
type OutputSink interface {
	Render(ctx context.Context, pcm []byte, info *WAVInfo) error
}

// PlaybackResult is delivered once per playback
type PlaybackResult struct {
	Interrupted bool  // stopped explicitly before natural completion
	Err         error // PlaybackFailure when rendering failed
}

// Playback is the handle of one play call. It becomes inert once finished.
type Playback struct {
	id       string
	source   []byte
	info     *WAVInfo
	cancel   context.CancelFunc
	released func()

	mu          sync.Mutex
	playing     bool
	stopRequest bool
	result      PlaybackResult

	done     chan struct{}
	doneOnce sync.Once
}

// ID returns the playback id
func (p *Playback) ID() string { return p.id }

// Source returns the WAV bytes being played
func (p *Playback) Source() []byte { return p.source }

// Duration returns the length of the audio
func (p *Playback) Duration() time.Duration {
	return time.Duration(p.info.Duration * float64(time.Second))
}

// Done is closed exactly once, on natural completion or after Stop
func (p *Playback) Done() <-chan struct{} { return p.done }

// IsPlaying reports whether audio is still being rendered
func (p *Playback) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Result returns the outcome; it is only meaningful after Done is closed
func (p *Playback) Result() PlaybackResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Stop interrupts playback and waits for the finished event
func (p *Playback) Stop() {
	p.mu.Lock()
	if p.playing {
		p.stopRequest = true
	}
	p.mu.Unlock()

	p.cancel()
	<-p.done
}

func (p *Playback) finish(err error) {
	p.doneOnce.Do(func() {
		p.mu.Lock()
		p.playing = false
		if p.stopRequest {
			p.result = PlaybackResult{Interrupted: true}
		} else if err != nil {
			p.result = PlaybackResult{Err: failure.New(failure.KindPlaybackFailure, err)}
		}
		p.mu.Unlock()

		p.released()
		close(p.done)
	})
}

// Player plays synthesized response audio through the shared device
type Player struct {
	device *DeviceManager
	sink   OutputSink
	logger *slog.Logger
}

// NewPlayer creates a player rendering into sink
func NewPlayer(device *DeviceManager, sink OutputSink, logger *slog.Logger) *Player {
	return &Player{
		device: device,
		sink:   sink,
		logger: logger,
	}
}

// Play starts rendering wav and returns immediately. Output is routed to
// the loudspeaker before rendering starts.
func (pl *Player) Play(ctx context.Context, wav []byte) (*Playback, error) {
	info, pcm, err := ParseWAV(wav)
	if err != nil {
		return nil, failure.New(failure.KindPlaybackFailure, fmt.Errorf("undecodable response audio: %w", err))
	}

	if err := pl.device.Claim(HolderPlayer); err != nil {
		return nil, failure.New(failure.KindPlaybackFailure, err)
	}

	if err := pl.device.RouteOutput(RouteSpeaker); err != nil {
		pl.device.Release(HolderPlayer)
		return nil, failure.New(failure.KindPlaybackFailure, err)
	}

	playCtx, cancel := context.WithCancel(ctx)
	p := &Playback{
		id:       uuid.NewString(),
		source:   wav,
		info:     info,
		cancel:   cancel,
		released: func() { pl.device.Release(HolderPlayer) },
		playing:  true,
		done:     make(chan struct{}),
	}

	pl.logger.Info("Playback started",
		slog.String("playback_id", p.id),
		slog.Float64("duration", info.Duration),
		slog.String("route", RouteSpeaker.String()),
	)

	go func() {
		defer cancel()
		err := pl.sink.Render(playCtx, pcm, info)
		if errors.Is(err, context.Canceled) && playCtx.Err() != nil {
			err = nil
			p.mu.Lock()
			p.stopRequest = true
			p.mu.Unlock()
		}
		p.finish(err)

		res := p.Result()
		pl.logger.Info("Playback finished",
			slog.String("playback_id", p.id),
			slog.Bool("interrupted", res.Interrupted),
			slog.Bool("failed", res.Err != nil),
		)
	}()

	return p, nil
}

// PacedSink stands in for a speaker: it holds for the duration of the audio
type PacedSink struct{}

func (PacedSink) Render(ctx context.Context, pcm []byte, info *WAVInfo) error {
	timer := time.NewTimer(time.Duration(info.Duration * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileSink writes each rendered clip to Dir, for headless runs where the
// output should be inspected afterwards
type FileSink struct {
	Dir string
}

func (s FileSink) Render(ctx context.Context, pcm []byte, info *WAVInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.Dir, fmt.Sprintf("played_%d.wav", time.Now().UnixNano()))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	if err := WriteHeader(f, int(info.SampleRate), uint32(len(pcm))); err != nil {
		return err
	}

	if _, err := f.WriteAt(pcm, HeaderSize); err != nil {
		return fmt.Errorf("failed to write output audio: %w", err)
	}

	return nil
}
