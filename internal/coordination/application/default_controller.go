package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
	dispatch "dr-coordinator/internal/dispatch/domain"
)

// DefaultController is the business-as-usual controller: while no event is
// active it sends the highest action to every device whose room setpoint is
// above its room temperature and the lowest action to the rest.
type DefaultController struct {
	participants []string
	space        coordination.ActionSpace
	interval     time.Duration
	telemetry    TelemetrySource
	dispatcher   Dispatcher
	mode         *coordination.ModeSignal
	clock        Clock
	logger       *log.Logger

	mu       sync.Mutex
	parked   bool
	parkedCh chan struct{}
}

// NewDefaultController constructs a parked controller; Run starts it.
func NewDefaultController(participants []string, space coordination.ActionSpace, interval time.Duration, telemetry TelemetrySource, dispatcher Dispatcher, mode *coordination.ModeSignal, clock Clock, logger *log.Logger) (*DefaultController, error) {
	if len(participants) == 0 {
		return nil, errors.New("default controller: no participants")
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, errors.New("default controller: interval must be positive")
	}
	if telemetry == nil {
		return nil, errors.New("default controller: nil telemetry source")
	}
	if dispatcher == nil {
		return nil, errors.New("default controller: nil dispatcher")
	}
	if mode == nil {
		return nil, errors.New("default controller: nil mode signal")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	parkedCh := make(chan struct{})
	close(parkedCh)
	return &DefaultController{
		participants: participants,
		space:        space,
		interval:     interval,
		telemetry:    telemetry,
		dispatcher:   dispatcher,
		mode:         mode,
		clock:        clock,
		logger:       logger,
		parked:       true,
		parkedCh:     parkedCh,
	}, nil
}

// Run dispatches BaU actions until ctx is done, parking whenever an event is active.
func (c *DefaultController) Run(ctx context.Context) {
	defer c.setParked(true)
	for {
		if ctx.Err() != nil {
			return
		}
		mode, changed := c.mode.Snapshot()
		if mode != coordination.ModeBAU {
			c.setParked(true)
			if err := c.mode.WaitFor(ctx, coordination.ModeBAU); err != nil {
				return
			}
			c.logger.Printf("default controller: resuming")
			continue
		}
		c.setParked(false)
		c.step(ctx, changed)

		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-c.clock.After(c.interval):
		}
	}
}

func (c *DefaultController) step(ctx context.Context, changed <-chan struct{}) {
	snap, err := c.telemetry.Latest(ctx, c.participants)
	select {
	case <-changed:
		return
	default:
	}
	if err != nil {
		c.logger.Printf("default controller: WARN fetch latest: err=%v", err)
		return
	}

	batch := dispatch.Batch{
		Source:   dispatch.SourceBAU,
		Time:     c.clock.Now(),
		Commands: make([]dispatch.Command, 0, len(c.participants)),
	}
	for _, deviceID := range c.participants {
		sample, ok := snap.Devices[deviceID]
		if !ok {
			c.logger.Printf("default controller: WARN no telemetry: device=%s", deviceID)
			continue
		}
		action := c.space.Min()
		if sample.RoomSetpoint > sample.RoomTemp {
			action = c.space.Max()
		}
		batch.Commands = append(batch.Commands, dispatch.Command{
			DeviceID: deviceID,
			Action:   action,
			RoomTemp: sample.RoomTemp,
			Setpoint: sample.RoomSetpoint,
		})
	}
	if len(batch.Commands) == 0 {
		return
	}
	var dispatchErr error
	if !c.mode.Guard(coordination.ModeBAU, func() {
		_, dispatchErr = c.dispatcher.Dispatch(ctx, batch)
	}) {
		return
	}
	if dispatchErr != nil {
		c.logger.Printf("default controller: ERROR dispatch: err=%v", dispatchErr)
	}
}

// WaitStopped blocks until the controller is parked or ctx is done.
func (c *DefaultController) WaitStopped(ctx context.Context) error {
	for {
		c.mu.Lock()
		parked, ch := c.parked, c.parkedCh
		c.mu.Unlock()
		if parked {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Parked reports whether the controller is currently idle.
func (c *DefaultController) Parked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parked
}

func (c *DefaultController) setParked(parked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parked == parked {
		return
	}
	c.parked = parked
	if parked {
		close(c.parkedCh)
	} else {
		c.parkedCh = make(chan struct{})
	}
}
