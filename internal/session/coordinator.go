package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/failure"
	"github.com/skypro1111/voice-practice/internal/metrics"
	"github.com/skypro1111/voice-practice/internal/permission"
	"github.com/skypro1111/voice-practice/internal/protocol"
)

var (
	// ErrBusy is returned by Start when an attempt is already in progress
	ErrBusy = errors.New("session busy")
	// ErrCancelled is the outcome error of an attempt abandoned by Cancel or Close
	ErrCancelled = errors.New("session cancelled")
	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("coordinator closed")
	// ErrNothingToReplay is returned by Replay before any response arrived
	ErrNothingToReplay = errors.New("no response to replay")
)

// Sender delivers an encoded upload and returns the raw response body
type Sender interface {
	Send(ctx context.Context, request *protocol.UploadRequest) ([]byte, error)
}

// Hook observes every finished attempt, including failed and cancelled ones
type Hook func(Outcome)

// Deps holds the collaborators of a Coordinator
type Deps struct {
	Gate     *permission.Gate
	Device   *audio.DeviceManager
	Recorder *audio.Recorder
	Player   *audio.Player
	Store    *audio.FileStore
	Sender   Sender
	Metrics  *metrics.Metrics // optional
	Logger   *slog.Logger

	// Upload part layout; defaults to the protocol constants
	FieldName   string
	FileName    string
	ContentType string
}

// attempt is one start-to-terminal pass through the pipeline
type attempt struct {
	id        string
	gen       uint64
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	run       *Run
	replay    bool

	handle       *audio.RecordingHandle
	recording    *audio.RecordingSession
	playback     *audio.Playback
	response     *protocol.ServerResponse
	responseFile string
	uploadStart  time.Time
}

// Coordinator drives capture, upload, decode and playback for a single
// practice session. It is the only component callers talk to.
type Coordinator struct {
	deps   Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	gen         uint64
	current     *attempt
	snapshot    Snapshot
	subscribers map[int]chan Snapshot
	nextSubID   int
	hooks       []Hook
	closed      bool

	// Last decoded response, kept for Replay
	lastResponse     *protocol.ServerResponse
	lastResponseFile string
}

// NewCoordinator creates a coordinator in the Idle state
func NewCoordinator(deps Deps) (*Coordinator, error) {
	if deps.Gate == nil || deps.Device == nil || deps.Recorder == nil || deps.Player == nil {
		return nil, fmt.Errorf("gate, device, recorder and player are required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FieldName == "" {
		deps.FieldName = protocol.FieldName
	}
	if deps.FileName == "" {
		deps.FileName = protocol.FileName
	}
	if deps.ContentType == "" {
		deps.ContentType = protocol.PartContentType
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		deps:        deps,
		logger:      deps.Logger,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateIdle,
		subscribers: make(map[int]chan Snapshot),
	}
	c.snapshot = Snapshot{State: StateIdle, UpdatedAt: time.Now()}
	c.recordState(StateIdle)

	return c, nil
}

// AddHook registers fn to be called after every finished attempt
func (c *Coordinator) AddHook(fn Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Start begins a new attempt. It asks for microphone access if needed,
// activates the device and starts recording. ctx only bounds the
// permission prompt; the attempt itself lives until it reaches a terminal
// state or is cancelled.
func (c *Coordinator) Start(ctx context.Context) (*Run, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordBusyRejection()
		}
		c.logger.Debug("Start rejected while busy", slog.String("state", string(state)))
		return nil, ErrBusy
	}

	a := c.newAttemptLocked()
	c.snapshot = Snapshot{SessionID: a.id}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordAttemptStarted()
	}

	c.logger.Info("Practice attempt started", slog.String("session_id", a.id))

	if c.deps.Gate.Status() != permission.Granted {
		c.setStateLocked(StateRequestingPermission)
		c.mu.Unlock()

		status, err := c.deps.Gate.RequestAccess(ctx)

		c.mu.Lock()
		if !c.isCurrentLocked(a) {
			c.mu.Unlock()
			return nil, ErrCancelled
		}

		if err != nil || status != permission.Granted {
			// An unanswered prompt counts as a refusal
			cause := fmt.Errorf("microphone access is %s", status)
			if err != nil {
				cause = err
			}
			return nil, c.failAndUnlock(a, failure.New(failure.KindPermissionDenied, cause))
		}
	}

	if err := c.deps.Device.Activate(audio.ModeRecordAndPlay); err != nil {
		return nil, c.failAndUnlock(a, err)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordDeviceActivated()
	}

	handle, err := c.deps.Recorder.Start(a.ctx, c.deps.Store.RecordingPath())
	if err != nil {
		return nil, c.failAndUnlock(a, err)
	}
	a.handle = handle

	c.snapshot.Recording = true
	c.setStateLocked(StateRecording)
	c.mu.Unlock()

	go c.watchCapture(a, handle)

	return a.run, nil
}

// Replay plays the last response again on a fresh device activation. It
// is only valid when Idle and is finished by Stop, Cancel or the end of
// playback like any other attempt.
func (c *Coordinator) Replay() (*Run, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if c.state != StateIdle {
		c.mu.Unlock()
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordBusyRejection()
		}
		return nil, ErrBusy
	}

	if c.lastResponse == nil {
		c.mu.Unlock()
		return nil, ErrNothingToReplay
	}

	a := c.newAttemptLocked()
	a.replay = true
	a.response = c.lastResponse
	a.responseFile = c.lastResponseFile

	c.snapshot = Snapshot{
		SessionID:     a.id,
		ResponseText:  a.response.Text,
		ProgressScore: a.response.ProgressScore,
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordReplay()
	}

	c.logger.Info("Replaying last response",
		slog.String("session_id", a.id),
		slog.String("file", a.responseFile),
	)

	if err := c.deps.Device.Activate(audio.ModeRecordAndPlay); err != nil {
		return nil, c.failAndUnlock(a, err)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordDeviceActivated()
	}

	playback, err := c.deps.Player.Play(a.ctx, a.response.Audio)
	if err != nil {
		return nil, c.failAndUnlock(a, err)
	}

	a.playback = playback
	c.snapshot.Playing = true
	c.setStateLocked(StatePlaying)
	c.mu.Unlock()

	go c.watchPlayback(a, playback)

	return a.run, nil
}

// LastRecording returns the most recently finalized recording, if any
func (c *Coordinator) LastRecording() *audio.RecordingSession {
	return c.deps.Recorder.LastSession()
}

// newAttemptLocked makes a new current attempt under a fresh generation
func (c *Coordinator) newAttemptLocked() *attempt {
	c.gen++
	attemptCtx, cancel := context.WithCancel(c.ctx)
	a := &attempt{
		id:        uuid.NewString(),
		gen:       c.gen,
		startedAt: time.Now(),
		ctx:       attemptCtx,
		cancel:    cancel,
	}
	a.run = newRun(a.id)
	c.current = a
	return a
}

// Stop ends the current phase. While recording it stops capture and sends
// the utterance for evaluation; while playing it stops playback and
// returns to Idle. It does nothing when Idle. While an upload is in flight
// it returns ConcurrentUploadRejected without side effects.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()

	switch c.state {
	case StateIdle, StateError:
		c.mu.Unlock()
		return nil

	case StateRequestingPermission:
		c.mu.Unlock()
		return ErrBusy

	case StateRecording:
		c.beginUploadLocked(c.current)
		c.mu.Unlock()
		return nil

	case StateUploading, StateDecoding:
		state := c.state
		c.mu.Unlock()
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordBusyRejection()
		}
		c.logger.Debug("Stop rejected while upload in flight", slog.String("state", string(state)))
		return failure.Newf(failure.KindConcurrentUploadRejected, "upload already in progress")

	case StatePlaying:
		a := c.current
		c.finishLocked(a, c.outcomeOf(a, nil))
		c.mu.Unlock()
		c.complete(a)
		return nil
	}

	c.mu.Unlock()
	return nil
}

// Toggle starts an attempt when idle and stops it otherwise
func (c *Coordinator) Toggle(ctx context.Context) (*Run, error) {
	c.mu.Lock()
	idle := c.state == StateIdle
	c.mu.Unlock()

	if idle {
		return c.Start(ctx)
	}
	return nil, c.Stop(ctx)
}

// Cancel abandons the current attempt from any state. Any response still in
// flight is discarded and never played.
func (c *Coordinator) Cancel() {
	c.mu.Lock()

	a := c.current
	if a == nil {
		c.mu.Unlock()
		return
	}

	c.logger.Info("Practice attempt cancelled",
		slog.String("session_id", a.id),
		slog.String("state", string(c.state)),
	)

	c.finishLocked(a, Outcome{
		SessionID: a.id,
		Recording: a.recording,
		Err:       ErrCancelled,
	})
	c.mu.Unlock()
	c.complete(a)
}

// Snapshot returns the current observable state
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel receiving every state change. Slow readers
// lose intermediate snapshots, never the latest one.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, 16)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.snapshot

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

// Close cancels any attempt and closes all subscriptions
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()

	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}

	return nil
}

// watchCapture treats a capture stream that ends on its own like Stop
func (c *Coordinator) watchCapture(a *attempt, handle *audio.RecordingHandle) {
	select {
	case <-handle.Done():
	case <-a.ctx.Done():
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrentLocked(a) || c.state != StateRecording {
		return
	}

	c.logger.Debug("Capture ended on its own", slog.String("session_id", a.id))
	c.beginUploadLocked(a)
}

func (c *Coordinator) beginUploadLocked(a *attempt) {
	c.snapshot.Recording = false
	c.snapshot.Uploading = true
	c.setStateLocked(StateUploading)
	go c.runPipeline(a)
}

// runPipeline finalizes the recording, uploads it, decodes the answer and
// starts playback. Every step re-checks that a is still current.
func (c *Coordinator) runPipeline(a *attempt) {
	recording, err := c.deps.Recorder.Stop(a.handle)
	if err != nil {
		c.fail(a, err)
		return
	}

	c.mu.Lock()
	if !c.isCurrentLocked(a) {
		c.mu.Unlock()
		return
	}
	a.recording = recording
	c.mu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordRecording(recording.Duration().Seconds(), recording.Bytes, recording.PeakLevel)
	}

	request, err := protocol.Build(recording, protocol.NewBoundary(), c.deps.FieldName, c.deps.FileName, c.deps.ContentType)
	if err != nil {
		c.fail(a, err)
		return
	}

	a.uploadStart = time.Now()
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordEvaluationRequest()
	}

	c.logger.Info("Uploading recording",
		slog.String("session_id", a.id),
		slog.Int64("bytes", recording.Bytes),
		slog.Duration("duration", recording.Duration()),
	)

	raw, err := c.deps.Sender.Send(a.ctx, request)
	if err != nil {
		if a.ctx.Err() != nil {
			return
		}
		c.recordEvaluationFailure(a, err)
		c.fail(a, err)
		return
	}

	if !c.transition(a, StateDecoding) {
		return
	}

	response, err := protocol.Decode(raw)
	if err != nil {
		c.recordEvaluationFailure(a, err)
		c.fail(a, err)
		return
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordEvaluationSuccess(time.Since(a.uploadStart).Seconds(), response.ProgressScore)
	}

	path, err := c.deps.Store.SaveResponse(response.Audio)
	if err != nil {
		c.fail(a, failure.New(failure.KindPlaybackFailure, err))
		return
	}

	c.mu.Lock()
	if !c.isCurrentLocked(a) {
		c.mu.Unlock()
		return
	}

	a.response = response
	a.responseFile = path
	c.snapshot.ResponseText = response.Text
	c.snapshot.ProgressScore = response.ProgressScore

	playback, err := c.deps.Player.Play(a.ctx, response.Audio)
	if err != nil {
		c.finishLocked(a, c.outcomeOf(a, err))
		c.mu.Unlock()
		c.complete(a)
		return
	}

	a.playback = playback
	c.snapshot.Uploading = false
	c.snapshot.Playing = true
	c.setStateLocked(StatePlaying)
	c.mu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordPlayback(playback.Duration().Seconds())
	}

	c.logger.Info("Playing response",
		slog.String("session_id", a.id),
		slog.String("text", response.Text),
		slog.Float64("progress", response.ProgressScore),
		slog.String("file", path),
	)

	go c.watchPlayback(a, playback)
}

// watchPlayback finishes the attempt when playback completes on its own
func (c *Coordinator) watchPlayback(a *attempt, playback *audio.Playback) {
	<-playback.Done()

	c.mu.Lock()
	if !c.isCurrentLocked(a) {
		c.mu.Unlock()
		return
	}

	c.finishLocked(a, c.outcomeOf(a, playback.Result().Err))
	c.mu.Unlock()
	c.complete(a)
}

// isCurrentLocked reports whether a still owns the coordinator. Deliveries
// from an older generation are dropped.
func (c *Coordinator) isCurrentLocked(a *attempt) bool {
	return c.current == a && c.gen == a.gen
}

// transition moves a to state if it is still the current attempt
func (c *Coordinator) transition(a *attempt, state State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrentLocked(a) {
		return false
	}
	c.setStateLocked(state)
	return true
}

// fail terminates a with err if it is still the current attempt
func (c *Coordinator) fail(a *attempt, err error) {
	c.mu.Lock()
	if !c.isCurrentLocked(a) {
		c.mu.Unlock()
		return
	}
	c.failAndUnlock(a, err)
}

// failAndUnlock finishes a with err, releases c.mu and returns err
func (c *Coordinator) failAndUnlock(a *attempt, err error) error {
	c.finishLocked(a, c.outcomeOf(a, err))
	c.mu.Unlock()
	c.complete(a)
	return err
}

func (c *Coordinator) outcomeOf(a *attempt, err error) Outcome {
	return Outcome{
		SessionID:    a.id,
		Response:     a.response,
		Recording:    a.recording,
		ResponseFile: a.responseFile,
		StartedAt:    a.startedAt,
		Replay:       a.replay,
		Err:          err,
	}
}

// finishLocked is the single terminal path: it stops any capture or
// playback, deactivates the device, clears the flags and returns to Idle.
// Must be called with c.mu held and a current.
func (c *Coordinator) finishLocked(a *attempt, outcome Outcome) {
	c.current = nil
	c.gen++
	a.cancel()

	if a.playback != nil {
		a.playback.Stop()
	}

	if a.handle != nil && c.deps.Recorder.IsRecording() {
		if _, err := c.deps.Recorder.Stop(a.handle); err != nil && outcome.Err == nil {
			c.logger.Debug("Discarded recording on finish", slog.String("error", err.Error()))
		}
	}

	if c.deps.Device.IsActive() {
		if err := c.deps.Device.Deactivate(); err != nil {
			c.logger.Warn("Failed to deactivate audio device",
				slog.String("session_id", a.id),
				slog.String("error", err.Error()),
			)
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordDeviceDeactivated()
		}
	}

	outcome.StartedAt = a.startedAt
	outcome.FinishedAt = time.Now()
	a.run.outcome = outcome

	if a.response != nil && !a.replay {
		c.lastResponse = a.response
		c.lastResponseFile = a.responseFile
	}

	// Replays have their own counter and do not count as attempts
	recordAttempt := c.deps.Metrics != nil && !a.replay

	c.snapshot.Recording = false
	c.snapshot.Uploading = false
	c.snapshot.Playing = false

	switch {
	case errors.Is(outcome.Err, ErrCancelled):
		if recordAttempt {
			c.deps.Metrics.RecordAttemptCancelled()
		}

	case outcome.Err != nil:
		kind := failure.KindOf(outcome.Err)
		c.snapshot.ErrorKind = kind
		c.snapshot.Error = outcome.Err.Error()
		c.setStateLocked(StateError)

		if recordAttempt {
			c.deps.Metrics.RecordAttemptFailed(string(kind))
		}

		c.logger.Warn("Practice attempt failed",
			slog.String("session_id", a.id),
			slog.String("kind", string(kind)),
			slog.String("error", outcome.Err.Error()),
		)

	default:
		if recordAttempt {
			c.deps.Metrics.RecordAttemptCompleted()
		}

		c.logger.Info("Practice attempt completed",
			slog.String("session_id", a.id),
			slog.Duration("elapsed", outcome.FinishedAt.Sub(a.startedAt)),
		)
	}

	c.setStateLocked(StateIdle)
}

// complete runs the hooks and resolves the run; c.mu must not be held
func (c *Coordinator) complete(a *attempt) {
	c.mu.Lock()
	hooks := append([]Hook(nil), c.hooks...)
	c.mu.Unlock()

	for _, hook := range hooks {
		hook(a.run.outcome)
	}

	a.run.resolve()
}

func (c *Coordinator) recordEvaluationFailure(a *attempt, err error) {
	if c.deps.Metrics == nil {
		return
	}
	c.deps.Metrics.RecordEvaluationFailure(string(failure.KindOf(err)), time.Since(a.uploadStart).Seconds())
}

func (c *Coordinator) setStateLocked(state State) {
	if c.state != state {
		c.logger.Debug("Session state changed",
			slog.String("from", string(c.state)),
			slog.String("to", string(state)),
		)
	}

	c.state = state
	c.snapshot.State = state
	c.snapshot.UpdatedAt = time.Now()
	c.recordState(state)
	c.publishLocked()
}

func (c *Coordinator) recordState(state State) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.SetState(string(state), stateNames)
	}
}

func (c *Coordinator) publishLocked() {
	snap := c.snapshot
	for _, ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the oldest so the latest state always gets through
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
