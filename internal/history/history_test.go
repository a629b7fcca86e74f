package history

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/failure"
	"github.com/skypro1111/voice-practice/internal/protocol"
	"github.com/skypro1111/voice-practice/internal/session"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func attempt(id string, score float64, kind failure.Kind, completed time.Time) *AttemptRecord {
	return &AttemptRecord{
		ID:               id,
		Text:             "text " + id,
		Score:            score,
		ErrorKind:        kind,
		RecordingSeconds: 2,
		StartedAt:        completed.Add(-5 * time.Second),
		CompletedAt:      completed,
	}
}

func TestSaveAndListAttempts(t *testing.T) {
	repo := newRepo(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := repo.SaveAttempt(attempt(id, float64(10*(i+1)), failure.KindNone, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveAttempt failed: %v", err)
		}
	}

	records, err := repo.GetRecentAttempts(2)
	if err != nil {
		t.Fatalf("GetRecentAttempts failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	if records[0].ID != "c" || records[1].ID != "b" {
		t.Errorf("Expected newest first, got %s, %s", records[0].ID, records[1].ID)
	}

	if !records[0].CompletedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Unexpected completed_at %v", records[0].CompletedAt)
	}

	since, err := repo.GetAttemptsSince(base.Add(30 * time.Second))
	if err != nil {
		t.Fatalf("GetAttemptsSince failed: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("Expected 2 attempts since cutoff, got %d", len(since))
	}

	if err := repo.SaveAttempt(attempt("a", 1, failure.KindNone, base)); err == nil {
		t.Error("Expected duplicate id to be rejected")
	}
}

func TestStatsBestScoreNeverResets(t *testing.T) {
	repo := newRepo(t)
	base := time.Now()

	scores := []float64{40, 100, 20}
	for i, score := range scores {
		repo.SaveAttempt(attempt(string(rune('a'+i)), score, failure.KindNone, base.Add(time.Duration(i)*time.Second)))
	}
	repo.SaveAttempt(attempt("failed", 0, failure.KindTransportError, base.Add(time.Minute)))

	stats, err := repo.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats.BestScore != 100 {
		t.Errorf("Expected best score to stay at 100, got %v", stats.BestScore)
	}

	if stats.TotalAttempts != 4 || stats.SuccessfulCount != 3 {
		t.Errorf("Unexpected counts: %+v", stats)
	}

	if stats.AverageScore != (40+100+20)/3.0 {
		t.Errorf("Expected failed attempts to be excluded from the average, got %v", stats.AverageScore)
	}

	if stats.SuccessRate != 75 {
		t.Errorf("Expected 75%% success rate, got %v", stats.SuccessRate)
	}
}

func TestStatsEmpty(t *testing.T) {
	stats, err := newRepo(t).GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats.TotalAttempts != 0 || stats.BestScore != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}
}

func TestFromOutcome(t *testing.T) {
	now := time.Now()
	outcome := session.Outcome{
		SessionID:    "s1",
		Response:     &protocol.ServerResponse{Text: "Hello", ProgressScore: 42},
		Recording:    &audio.RecordingSession{FilePath: "/tmp/rec.wav", Bytes: audio.SampleRate * audio.BytesPerSample},
		ResponseFile: "/tmp/resp.wav",
		StartedAt:    now.Add(-time.Second),
		FinishedAt:   now,
	}

	record := FromOutcome(outcome)
	if record == nil {
		t.Fatal("Expected a record")
	}

	if record.Text != "Hello" || record.Score != 42 || !record.Succeeded() {
		t.Errorf("Unexpected record: %+v", record)
	}

	if record.RecordingSeconds != 1 {
		t.Errorf("Expected 1 second recording, got %v", record.RecordingSeconds)
	}

	outcome.Err = failure.Newf(failure.KindMissingField, "missing field %q", "audio")
	if record := FromOutcome(outcome); record.ErrorKind != failure.KindMissingField {
		t.Errorf("Expected MissingField, got %s", record.ErrorKind)
	}

	outcome.Err = errors.Join(session.ErrCancelled)
	if FromOutcome(outcome) != nil {
		t.Error("Expected cancelled attempts to be skipped")
	}

	outcome.Err = nil
	outcome.Replay = true
	if FromOutcome(outcome) != nil {
		t.Error("Expected replays to be skipped")
	}
}

func TestHook(t *testing.T) {
	repo := newRepo(t)
	var logs bytes.Buffer
	hook := Hook(repo, slog.New(slog.NewTextHandler(&logs, nil)))

	hook(session.Outcome{SessionID: "ok", Response: &protocol.ServerResponse{ProgressScore: 55}, StartedAt: time.Now(), FinishedAt: time.Now()})
	hook(session.Outcome{SessionID: "cancelled", Err: session.ErrCancelled})

	records, err := repo.GetRecentAttempts(10)
	if err != nil {
		t.Fatalf("GetRecentAttempts failed: %v", err)
	}

	if len(records) != 1 || records[0].ID != "ok" {
		t.Errorf("Expected only the completed attempt, got %+v", records)
	}

	// Duplicate ids are logged, not fatal
	hook(session.Outcome{SessionID: "ok", StartedAt: time.Now(), FinishedAt: time.Now()})
	if !bytes.Contains(logs.Bytes(), []byte("Failed to store attempt")) {
		t.Error("Expected save failure to be logged")
	}
}
