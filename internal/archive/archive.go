package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/skypro1111/voice-practice/internal/config"
	"github.com/skypro1111/voice-practice/internal/session"
)

const contentType = "audio/wave"

// ErrClosed is returned when enqueueing on a closed archive
var ErrClosed = errors.New("archive is closed")

// ObjectStore is the subset of *minio.Client used by the archive
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// job is one finished attempt waiting to be uploaded
type job struct {
	sessionID string
	files     map[string]string // object name -> local path
	score     float64
	queuedAt  time.Time
}

// Archive uploads attempt audio in the background
type Archive struct {
	store   ObjectStore
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	jobs   chan *job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	uploaded uint64
	failed   uint64
	dropped  uint64
}

// Stats holds upload counters
type Stats struct {
	Uploaded uint64 `json:"uploaded"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}

// NewMinioStore creates a minio client for the archive endpoint and checks
// that the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.ArchiveConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.GetTimeoutDuration())
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	return client, nil
}

// New starts an archive with the given number of upload workers
func New(store ObjectStore, cfg config.ArchiveConfig, workers int, logger *slog.Logger) *Archive {
	if workers < 1 {
		workers = 1
	}

	a := &Archive{
		store:   store,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: cfg.GetTimeoutDuration(),
		logger:  logger,
		jobs:    make(chan *job, 32),
	}

	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}

	logger.Info("Recording archive started",
		slog.String("bucket", cfg.Bucket),
		slog.String("prefix", cfg.Prefix),
		slog.Int("workers", workers),
	)

	return a
}

// ObjectKey returns the object name for a file of an attempt
func (a *Archive) ObjectKey(sessionID, name string) string {
	return path.Join(a.prefix, sessionID, name)
}

// Hook returns a session hook that archives successful attempts. Failed and
// cancelled attempts have nothing worth keeping.
func (a *Archive) Hook() session.Hook {
	return func(o session.Outcome) {
		if o.Err != nil || o.Replay || o.Recording == nil {
			return
		}

		j := &job{
			sessionID: o.SessionID,
			files: map[string]string{
				a.ObjectKey(o.SessionID, "recording.wav"): o.Recording.FilePath,
			},
			queuedAt: time.Now(),
		}
		if o.ResponseFile != "" {
			j.files[a.ObjectKey(o.SessionID, "response.wav")] = o.ResponseFile
		}
		if o.Response != nil {
			j.score = o.Response.ProgressScore
		}

		if err := a.enqueue(j); err != nil {
			a.logger.Warn("Attempt not archived",
				slog.String("session_id", o.SessionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (a *Archive) enqueue(j *job) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	select {
	case a.jobs <- j:
		return nil
	default:
		a.dropped++
		return fmt.Errorf("upload queue full")
	}
}

func (a *Archive) worker(id int) {
	defer a.wg.Done()

	for j := range a.jobs {
		a.upload(id, j)
	}
}

func (a *Archive) upload(workerID int, j *job) {
	for key, file := range j.files {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		info, err := a.store.FPutObject(ctx, a.bucket, key, file, minio.PutObjectOptions{
			ContentType: contentType,
			UserMetadata: map[string]string{
				"session-id":     j.sessionID,
				"progress-score": strconv.FormatFloat(j.score, 'f', -1, 64),
				"uploaded-at":    time.Now().UTC().Format(time.RFC3339),
			},
		})
		cancel()

		a.mu.Lock()
		if err != nil {
			a.failed++
		} else {
			a.uploaded++
		}
		a.mu.Unlock()

		if err != nil {
			a.logger.Error("Archive upload failed",
				slog.Int("worker_id", workerID),
				slog.String("session_id", j.sessionID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}

		a.logger.Debug("Archived file",
			slog.Int("worker_id", workerID),
			slog.String("session_id", j.sessionID),
			slog.String("key", key),
			slog.Int64("size", info.Size),
			slog.Duration("queued_for", time.Since(j.queuedAt)),
		)
	}
}

// GetStats returns upload counters
func (a *Archive) GetStats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return Stats{Uploaded: a.uploaded, Failed: a.failed, Dropped: a.dropped}
}

// Close stops accepting uploads and waits for queued ones to finish
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("Recording archive stopped")
	return nil
}
