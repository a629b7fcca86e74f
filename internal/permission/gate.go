package permission

import (
	"context"
	"fmt"
	"sync"
)

// Status is the microphone access state reported by the platform
type Status int

const (
	Undetermined Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "undetermined"
	}
}

// ParseStatus converts a config value into a Status
func ParseStatus(s string) (Status, error) {
	switch s {
	case "granted":
		return Granted, nil
	case "denied":
		return Denied, nil
	case "undetermined", "":
		return Undetermined, nil
	}
	return Undetermined, fmt.Errorf("unknown permission status %q", s)
}

// Platform is the OS-level permission facility
type Platform interface {
	Status() Status
	// Request shows the permission prompt and returns the user's answer
	Request(ctx context.Context) (Status, error)
}

// Gate queries and requests microphone access, prompting at most once
type Gate struct {
	platform Platform

	mu       sync.Mutex
	prompted bool
}

// NewGate creates a gate over the given platform
func NewGate(platform Platform) *Gate {
	return &Gate{platform: platform}
}

// Status returns the current access state without prompting
func (g *Gate) Status() Status {
	return g.platform.Status()
}

// RequestAccess returns the access state, prompting the platform only if the
// state is undetermined and no prompt has been shown yet by this gate.
func (g *Gate) RequestAccess(ctx context.Context) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := g.platform.Status()
	if status != Undetermined || g.prompted {
		return status, nil
	}

	g.prompted = true
	answer, err := g.platform.Request(ctx)
	if err != nil {
		return Undetermined, fmt.Errorf("permission prompt failed: %w", err)
	}
	return answer, nil
}

// Prompted reports whether this gate has already shown the platform prompt
func (g *Gate) Prompted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompted
}

// Static is a Platform with a fixed initial state and a scripted prompt answer.
// It backs headless runs where no interactive prompt exists.
type Static struct {
	mu      sync.Mutex
	status  Status
	answer  Status
	prompts int
}

// NewStatic creates a static platform
func NewStatic(initial, answer Status) *Static {
	return &Static{status: initial, answer: answer}
}

func (s *Static) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Static) Request(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Undetermined, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts++
	s.status = s.answer
	return s.status, nil
}

// Prompts returns how many times the prompt was shown
func (s *Static) Prompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}
