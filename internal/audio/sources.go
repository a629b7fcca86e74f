package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// SilenceSource produces digital silence for a bounded duration. With
// Realtime set it paces delivery at the capture rate, otherwise it returns
// data as fast as the recorder reads it.
type SilenceSource struct {
	Duration time.Duration
	Realtime bool
}

func (s SilenceSource) Open(ctx context.Context, format Format) (io.ReadCloser, error) {
	total := int64(s.Duration.Seconds()*float64(format.SampleRate)) * int64(format.BitsPerSample/8) * int64(format.Channels)
	return newPacedReader(ctx, bytes.NewReader(make([]byte, total)), format, s.Realtime), nil
}

// WAVFileSource replays the PCM data of an existing WAV file as if it were
// captured from the microphone. The file must already be in capture format.
type WAVFileSource struct {
	Path     string
	Realtime bool
}

func (s WAVFileSource) Open(ctx context.Context, format Format) (io.ReadCloser, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file %s: %w", s.Path, err)
	}

	info, pcm, err := ParseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("invalid capture file %s: %w", s.Path, err)
	}

	if int(info.SampleRate) != format.SampleRate {
		return nil, fmt.Errorf("capture file sample rate %d does not match %d", info.SampleRate, format.SampleRate)
	}

	return newPacedReader(ctx, bytes.NewReader(pcm), format, s.Realtime), nil
}

// pacedReader wraps a PCM reader and optionally throttles it to real time.
// Close unblocks a pending Read and makes further reads return io.EOF.
type pacedReader struct {
	ctx      context.Context
	src      io.Reader
	realtime bool
	chunk    int
	interval time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newPacedReader(ctx context.Context, src io.Reader, format Format, realtime bool) *pacedReader {
	// 20ms of audio per read
	bytesPerSecond := format.SampleRate * format.Channels * format.BitsPerSample / 8
	return &pacedReader{
		ctx:      ctx,
		src:      src,
		realtime: realtime,
		chunk:    bytesPerSecond / 50,
		interval: 20 * time.Millisecond,
		closed:   make(chan struct{}),
	}
}

func (r *pacedReader) Read(p []byte) (int, error) {
	select {
	case <-r.closed:
		return 0, io.EOF
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
	}

	if r.realtime {
		timer := time.NewTimer(r.interval)
		select {
		case <-timer.C:
		case <-r.closed:
			timer.Stop()
			return 0, io.EOF
		case <-r.ctx.Done():
			timer.Stop()
			return 0, r.ctx.Err()
		}
	}

	if len(p) > r.chunk && r.chunk > 0 {
		p = p[:r.chunk]
	}
	return r.src.Read(p)
}

func (r *pacedReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
