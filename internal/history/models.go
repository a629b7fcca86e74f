package history

import (
	"errors"
	"time"

	"github.com/skypro1111/voice-practice/internal/failure"
	"github.com/skypro1111/voice-practice/internal/session"
)

// AttemptRecord is one stored practice attempt
type AttemptRecord struct {
	ID               string       `json:"id"`
	Text             string       `json:"text"`
	Score            float64      `json:"score"`
	ErrorKind        failure.Kind `json:"error_kind,omitempty"`
	RecordingPath    string       `json:"recording_path,omitempty"`
	ResponsePath     string       `json:"response_path,omitempty"`
	RecordingSeconds float64      `json:"recording_seconds"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      time.Time    `json:"completed_at"`
}

// Succeeded reports whether the attempt produced a scored response
func (r *AttemptRecord) Succeeded() bool {
	return r.ErrorKind == failure.KindNone
}

// Stats summarizes stored attempts
type Stats struct {
	TotalAttempts   int     `json:"total_attempts"`
	SuccessfulCount int     `json:"successful_count"`
	AverageScore    float64 `json:"average_score"`
	BestScore       float64 `json:"best_score"`
	SuccessRate     float64 `json:"success_rate"`
}

// FromOutcome converts a finished attempt into a record. Cancelled attempts
// and replays are not history and yield nil.
func FromOutcome(o session.Outcome) *AttemptRecord {
	if o.Replay || errors.Is(o.Err, session.ErrCancelled) {
		return nil
	}

	record := &AttemptRecord{
		ID:           o.SessionID,
		ResponsePath: o.ResponseFile,
		StartedAt:    o.StartedAt,
		CompletedAt:  o.FinishedAt,
	}

	if o.Err != nil {
		record.ErrorKind = failure.KindOf(o.Err)
		if record.ErrorKind == failure.KindNone {
			record.ErrorKind = "Unknown"
		}
	}

	if o.Recording != nil {
		record.RecordingPath = o.Recording.FilePath
		record.RecordingSeconds = o.Recording.Duration().Seconds()
	}

	if o.Response != nil {
		record.Text = o.Response.Text
		record.Score = o.Response.ProgressScore
	}

	return record
}
