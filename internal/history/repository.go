package history

import "time"

// Repository stores practice attempts
type Repository interface {
	SaveAttempt(record *AttemptRecord) error

	GetRecentAttempts(limit int) ([]AttemptRecord, error)

	GetAttemptsSince(since time.Time) ([]AttemptRecord, error)

	GetStats() (*Stats, error)

	Close() error
}
