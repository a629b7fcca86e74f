package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/skypro1111/voice-practice/internal/failure"
	"github.com/skypro1111/voice-practice/internal/session"
)

// SQLiteRepository keeps attempts in a local SQLite database
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens dbPath and creates the schema if needed
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", dbPath, err)
	}

	// ":memory:" databases exist per connection
	db.SetMaxOpenConns(1)

	repo := &SQLiteRepository{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		score REAL NOT NULL,
		error_kind TEXT NOT NULL,
		recording_path TEXT,
		response_path TEXT,
		recording_seconds REAL NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_completed_at ON attempts(completed_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepository) SaveAttempt(record *AttemptRecord) error {
	query := `
		INSERT INTO attempts (id, text, score, error_kind, recording_path, response_path, recording_seconds, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(
		query,
		record.ID,
		record.Text,
		record.Score,
		string(record.ErrorKind),
		record.RecordingPath,
		record.ResponsePath,
		record.RecordingSeconds,
		record.StartedAt.UTC(),
		record.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt %s: %w", record.ID, err)
	}

	return nil
}

func (r *SQLiteRepository) GetRecentAttempts(limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, text, score, error_kind, recording_path, response_path, recording_seconds, started_at, completed_at
		FROM attempts
		ORDER BY completed_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAttempts(rows)
}

func (r *SQLiteRepository) GetAttemptsSince(since time.Time) ([]AttemptRecord, error) {
	query := `
		SELECT id, text, score, error_kind, recording_path, response_path, recording_seconds, started_at, completed_at
		FROM attempts
		WHERE completed_at >= ?
		ORDER BY completed_at DESC
	`

	rows, err := r.db.Query(query, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAttempts(rows)
}

// GetStats aggregates all attempts. BestScore is the highest score of any
// successful attempt and only ever grows.
func (r *SQLiteRepository) GetStats() (*Stats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN error_kind = '' THEN 1 ELSE 0 END) as successful,
			AVG(CASE WHEN error_kind = '' THEN score END) as avg_score,
			MAX(CASE WHEN error_kind = '' THEN score END) as best_score
		FROM attempts
	`

	var stats Stats
	var successful sql.NullInt64
	var avgScore, bestScore sql.NullFloat64

	err := r.db.QueryRow(query).Scan(
		&stats.TotalAttempts,
		&successful,
		&avgScore,
		&bestScore,
	)
	if err != nil {
		return nil, err
	}

	if successful.Valid {
		stats.SuccessfulCount = int(successful.Int64)
	}
	if avgScore.Valid {
		stats.AverageScore = avgScore.Float64
	}
	if bestScore.Valid {
		stats.BestScore = bestScore.Float64
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessfulCount) / float64(stats.TotalAttempts) * 100
	}

	return &stats, nil
}

func (r *SQLiteRepository) scanAttempts(rows *sql.Rows) ([]AttemptRecord, error) {
	var records []AttemptRecord

	for rows.Next() {
		var record AttemptRecord
		var errorKind string
		var recordingPath, responsePath sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.Text,
			&record.Score,
			&errorKind,
			&recordingPath,
			&responsePath,
			&record.RecordingSeconds,
			&record.StartedAt,
			&record.CompletedAt,
		)
		if err != nil {
			return nil, err
		}

		record.ErrorKind = failure.Kind(errorKind)
		record.RecordingPath = recordingPath.String
		record.ResponsePath = responsePath.String

		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Hook returns a session hook that stores every finished attempt in repo
func Hook(repo Repository, logger *slog.Logger) session.Hook {
	return func(o session.Outcome) {
		record := FromOutcome(o)
		if record == nil {
			return
		}

		if err := repo.SaveAttempt(record); err != nil {
			logger.Error("Failed to store attempt",
				slog.String("session_id", o.SessionID),
				slog.String("error", err.Error()),
			)
			return
		}

		logger.Debug("Attempt stored",
			slog.String("session_id", record.ID),
			slog.Float64("score", record.Score),
			slog.String("error_kind", string(record.ErrorKind)),
		)
	}
}
