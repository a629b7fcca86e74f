package archive

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/config"
	"github.com/skypro1111/voice-practice/internal/protocol"
	"github.com/skypro1111/voice-practice/internal/session"
)

type putCall struct {
	bucket string
	key    string
	file   string
	opts   minio.PutObjectOptions
}

type fakeStore struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return true, nil
}

func (f *fakeStore) FPutObject(ctx context.Context, bucket, key, file string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{bucket: bucket, key: key, file: file, opts: opts})
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: 44}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.ArchiveConfig {
	return config.ArchiveConfig{
		Enabled: true,
		Bucket:  "practice",
		Prefix:  "attempts",
		Timeout: 5,
	}
}

func successOutcome() session.Outcome {
	return session.Outcome{
		SessionID:    "abc",
		Recording:    &audio.RecordingSession{FilePath: "/tmp/rec.wav"},
		ResponseFile: "/tmp/resp.wav",
		Response:     &protocol.ServerResponse{Text: "ok", ProgressScore: 87.5},
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"attempts", "attempts/abc/recording.wav"},
		{"attempts/", "attempts/abc/recording.wav"},
		{"", "abc/recording.wav"},
	}

	for _, tt := range tests {
		cfg := testConfig()
		cfg.Prefix = tt.prefix
		a := New(&fakeStore{}, cfg, 1, testLogger())

		if got := a.ObjectKey("abc", "recording.wav"); got != tt.expected {
			t.Errorf("Prefix %q: expected %s, got %s", tt.prefix, tt.expected, got)
		}
		a.Close()
	}
}

func TestHookUploadsSuccessfulAttempt(t *testing.T) {
	store := &fakeStore{}
	a := New(store, testConfig(), 2, testLogger())

	a.Hook()(successOutcome())
	a.Close()

	if len(store.calls) != 2 {
		t.Fatalf("Expected 2 uploads, got %d", len(store.calls))
	}

	keys := []string{store.calls[0].key, store.calls[1].key}
	sort.Strings(keys)
	if keys[0] != "attempts/abc/recording.wav" || keys[1] != "attempts/abc/response.wav" {
		t.Errorf("Unexpected keys: %v", keys)
	}

	for _, call := range store.calls {
		if call.bucket != "practice" {
			t.Errorf("Expected bucket practice, got %s", call.bucket)
		}
		if call.opts.ContentType != "audio/wave" {
			t.Errorf("Expected audio/wave, got %s", call.opts.ContentType)
		}
		if call.opts.UserMetadata["progress-score"] != "87.5" {
			t.Errorf("Expected progress-score metadata 87.5, got %q", call.opts.UserMetadata["progress-score"])
		}
	}

	if stats := a.GetStats(); stats.Uploaded != 2 || stats.Failed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHookSkipsFailedAttempts(t *testing.T) {
	store := &fakeStore{}
	a := New(store, testConfig(), 1, testLogger())

	failed := successOutcome()
	failed.Err = errors.New("boom")
	a.Hook()(failed)
	a.Hook()(session.Outcome{SessionID: "no-recording"})
	a.Close()

	if len(store.calls) != 0 {
		t.Errorf("Expected no uploads, got %d", len(store.calls))
	}
}

func TestUploadFailureCounted(t *testing.T) {
	store := &fakeStore{err: errors.New("access denied")}
	a := New(store, testConfig(), 1, testLogger())

	outcome := successOutcome()
	outcome.ResponseFile = ""
	a.Hook()(outcome)
	a.Close()

	if stats := a.GetStats(); stats.Failed != 1 || stats.Uploaded != 0 {
		t.Errorf("Expected one failed upload, got %+v", stats)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	a := New(&fakeStore{}, testConfig(), 1, testLogger())
	a.Close()

	if err := a.enqueue(&job{sessionID: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	// Second close is a no-op
	if err := a.Close(); err != nil {
		t.Errorf("Expected nil on second close, got %v", err)
	}
}
