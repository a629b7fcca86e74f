package session

import (
	"context"
	"time"

	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/failure"
	"github.com/skypro1111/voice-practice/internal/protocol"
)

// State is a coordinator state
type State string

const (
	StateIdle                 State = "Idle"
	StateRequestingPermission State = "RequestingPermission"
	StateRecording            State = "Recording"
	StateUploading            State = "Uploading"
	StateDecoding             State = "Decoding"
	StatePlaying              State = "Playing"
	StateError                State = "Error"
)

var stateNames = []string{
	string(StateIdle),
	string(StateRequestingPermission),
	string(StateRecording),
	string(StateUploading),
	string(StateDecoding),
	string(StatePlaying),
	string(StateError),
}

// Snapshot is the externally observable state of a coordinator. The error
// of the last failed attempt stays visible until the next Start.
type Snapshot struct {
	SessionID     string       `json:"session_id,omitempty"`
	State         State        `json:"state"`
	Recording     bool         `json:"is_recording"`
	Uploading     bool         `json:"is_uploading"`
	Playing       bool         `json:"is_playing"`
	ResponseText  string       `json:"response_text,omitempty"`
	ProgressScore float64      `json:"progress_score"`
	ErrorKind     failure.Kind `json:"error_kind,omitempty"`
	Error         string       `json:"error,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Busy reports whether an upload cycle holds the coordinator
func (s Snapshot) Busy() bool {
	return s.State != StateIdle && s.State != StateError
}

// Outcome is the terminal value of an attempt
type Outcome struct {
	SessionID    string
	Response     *protocol.ServerResponse
	Recording    *audio.RecordingSession
	ResponseFile string
	StartedAt    time.Time
	FinishedAt   time.Time
	Replay       bool // replay of an earlier response, not a new attempt
	Err          error
}

// Run is the future of one attempt
type Run struct {
	id      string
	done    chan struct{}
	outcome Outcome
}

func newRun(id string) *Run {
	return &Run{id: id, done: make(chan struct{})}
}

// ID returns the session id of the attempt
func (r *Run) ID() string { return r.id }

// Done is closed when the attempt reaches a terminal state
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the attempt finishes or ctx ends
func (r *Run) Wait(ctx context.Context) Outcome {
	select {
	case <-r.done:
		return r.outcome
	case <-ctx.Done():
		return Outcome{SessionID: r.id, Err: ctx.Err()}
	}
}

func (r *Run) resolve() {
	close(r.done)
}
