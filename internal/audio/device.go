package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/skypro1111/voice-practice/internal/failure"
)

// Mode selects how the duplex audio resource is configured
type Mode int

const (
	ModeRecordAndPlay Mode = iota
)

func (m Mode) String() string {
	return "record_and_play"
}

// Route selects the output port
type Route int

const (
	RouteDefault Route = iota
	RouteSpeaker
)

func (r Route) String() string {
	if r == RouteSpeaker {
		return "speaker"
	}
	return "default"
}

// Holder identifies which component is using the device
type Holder string

const (
	HolderNone     Holder = ""
	HolderRecorder Holder = "recorder"
	HolderPlayer   Holder = "player"
)

// Backend is the platform audio-session facility
type Backend interface {
	Activate(mode Mode) error
	Deactivate() error
	SetOutputRoute(route Route) error
}

// NopBackend accepts every call; used for headless runs
type NopBackend struct{}

func (NopBackend) Activate(Mode) error        { return nil }
func (NopBackend) Deactivate() error          { return nil }
func (NopBackend) SetOutputRoute(Route) error { return nil }

// DeviceManager owns the shared duplex audio resource. Activate and
// Deactivate must be paired; at most one holder uses the device at a time.
type DeviceManager struct {
	backend Backend
	logger  *slog.Logger

	mu            sync.Mutex
	active        bool
	mode          Mode
	route         Route
	holder        Holder
	activations   int
	deactivations int
}

// NewDeviceManager creates a device manager over backend
func NewDeviceManager(backend Backend, logger *slog.Logger) *DeviceManager {
	if backend == nil {
		backend = NopBackend{}
	}
	return &DeviceManager{
		backend: backend,
		logger:  logger,
	}
}

// Activate configures and activates the device. Failure is reported as
// DeviceActivationFailure and leaves the device inactive.
func (d *DeviceManager) Activate(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return failure.Newf(failure.KindDeviceActivationFailure, "audio device already active")
	}

	if err := d.backend.Activate(mode); err != nil {
		return failure.New(failure.KindDeviceActivationFailure, fmt.Errorf("failed to activate audio device: %w", err))
	}

	d.active = true
	d.mode = mode
	d.route = RouteDefault
	d.activations++

	d.logger.Debug("Audio device activated",
		slog.String("mode", mode.String()),
		slog.Int("activations", d.activations),
	)

	return nil
}

// Deactivate releases the device. It is a no-op when the device is not
// active, so deferred cleanup paths can call it unconditionally.
func (d *DeviceManager) Deactivate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	d.active = false
	d.holder = HolderNone
	d.route = RouteDefault
	d.deactivations++

	if err := d.backend.Deactivate(); err != nil {
		d.logger.Warn("Audio device deactivation reported an error",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to deactivate audio device: %w", err)
	}

	d.logger.Debug("Audio device deactivated",
		slog.Int("deactivations", d.deactivations),
	)

	return nil
}

// Claim marks holder as the exclusive user of the active device
func (d *DeviceManager) Claim(holder Holder) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return fmt.Errorf("audio device is not active")
	}

	if d.holder != HolderNone && d.holder != holder {
		return fmt.Errorf("audio device is held by %s", d.holder)
	}

	d.holder = holder
	return nil
}

// Release drops holder's claim; releasing a claim held by someone else is ignored
func (d *DeviceManager) Release(holder Holder) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.holder == holder {
		d.holder = HolderNone
	}
}

// RouteOutput forces the output port. Only the player calls this, to send
// synthesized speech to the loudspeaker regardless of the previous route.
func (d *DeviceManager) RouteOutput(route Route) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return fmt.Errorf("audio device is not active")
	}

	if err := d.backend.SetOutputRoute(route); err != nil {
		return fmt.Errorf("failed to route output to %s: %w", route, err)
	}

	d.route = route
	return nil
}

// IsActive reports whether the device is currently active
func (d *DeviceManager) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Holder returns the current exclusive user
func (d *DeviceManager) Holder() Holder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holder
}

// Route returns the current output route
func (d *DeviceManager) Route() Route {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.route
}

// Activations returns the number of successful activations
func (d *DeviceManager) Activations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activations
}

// Deactivations returns the number of deactivations
func (d *DeviceManager) Deactivations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deactivations
}
