package application

import (
	"context"
	"errors"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
	dispatch "dr-coordinator/internal/dispatch/domain"
	telemetry "dr-coordinator/internal/telemetry/domain"
)

// TelemetrySource reads device measurements.
type TelemetrySource interface {
	Latest(ctx context.Context, deviceIDs []string) (telemetry.Snapshot, error)
	RecentWindow(ctx context.Context, deviceIDs []string, size int) (map[string][]telemetry.Sample, error)
}

// OracleResolver builds the per-device oracle for an event.
type OracleResolver interface {
	Resolve(ctx context.Context, deviceID string, baseline coordination.DeviceState, baselineAction coordination.Action) (coordination.Oracle, error)
}

// Dispatcher delivers action batches to devices.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch dispatch.Batch) ([]dispatch.Record, error)
	SetpointFor(deviceID string, action coordination.Action) (float64, bool)
}

// EventRepository persists event runs.
type EventRepository interface {
	Save(ctx context.Context, run coordination.Run) error
	Get(ctx context.Context, id string) (*coordination.Run, error)
}

// ProgressPublisher streams progress samples of a running event.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, eventID string, sample coordination.ProgressSample) error
}

// OutcomeNotifier is told how an event ended.
type OutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, run coordination.Run) error
}

// Clock provides time and timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// After waits for d on the wall clock.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config holds the coordination parameters shared by every event.
type Config struct {
	Participants []string
	// Simulated devices only get soft warnings on telemetry checks.
	Simulated                 map[string]bool
	ActionSpace               coordination.ActionSpace
	TrajectoryLength          int
	TrajectoryInterval        time.Duration
	WindowMargin              int
	ControlInterval           time.Duration
	Kp                        float64
	Ki                        float64
	IntegralLimit             float64
	BaselineSetpointThreshold float64
	LegacyDownFilter          bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Participants) == 0 {
		return errors.New("coordinator: no participants")
	}
	seen := make(map[string]struct{}, len(c.Participants))
	for _, id := range c.Participants {
		if id == "" {
			return errors.New("coordinator: empty participant id")
		}
		if _, ok := seen[id]; ok {
			return errors.New("coordinator: duplicate participant " + id)
		}
		seen[id] = struct{}{}
	}
	if err := c.ActionSpace.Validate(); err != nil {
		return err
	}
	if c.TrajectoryLength <= 0 {
		return errors.New("coordinator: trajectory length must be positive")
	}
	if c.WindowMargin < 0 {
		return errors.New("coordinator: negative window margin")
	}
	if c.ControlInterval <= 0 {
		return errors.New("coordinator: control interval must be positive")
	}
	if c.IntegralLimit < 0 {
		return errors.New("coordinator: negative integral limit")
	}
	return nil
}

// Deps are the collaborators of a coordinator. Runs, Publisher and Notifier
// are optional.
type Deps struct {
	Telemetry  TelemetrySource
	Oracles    OracleResolver
	Dispatcher Dispatcher
	Mode       *coordination.ModeSignal
	Clock      Clock
	Runs       EventRepository
	Publisher  ProgressPublisher
	Notifier   OutcomeNotifier
}

func (d Deps) validate() error {
	if d.Telemetry == nil {
		return errors.New("coordinator: nil telemetry source")
	}
	if d.Oracles == nil {
		return errors.New("coordinator: nil oracle resolver")
	}
	if d.Dispatcher == nil {
		return errors.New("coordinator: nil dispatcher")
	}
	if d.Mode == nil {
		return errors.New("coordinator: nil mode signal")
	}
	return nil
}
