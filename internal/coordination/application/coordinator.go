package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
	dispatch "dr-coordinator/internal/dispatch/domain"
	"dr-coordinator/internal/observability/metrics"
)

// Coordinator runs one DR event: it loads the baseline, builds the ladder and
// drives the control loop until the event ends or the mode signal is cleared.
type Coordinator struct {
	event  coordination.Event
	cfg    Config
	deps   Deps
	logger *log.Logger

	fc     *coordination.FeedbackController
	ladder *coordination.Ladder

	mu       sync.RWMutex
	run      coordination.Run
	done     chan struct{}
	doneOnce sync.Once
}

// NewCoordinator constructs a coordinator in INIT state.
func NewCoordinator(event coordination.Event, cfg Config, deps Deps, logger *log.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		event:  event,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		fc:     coordination.NewFeedbackController(cfg.Kp, cfg.Ki, cfg.IntegralLimit),
		run: coordination.Run{
			ID:         event.ID,
			Duration:   event.Duration,
			PowerDelta: event.PowerDelta,
			Status:     coordination.StatusInit,
		},
		done: make(chan struct{}),
	}, nil
}

// Done is closed once the coordinator has reached a terminal state.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Snapshot returns a copy of the current run state.
func (c *Coordinator) Snapshot() coordination.Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run := c.run
	run.Progress = append([]coordination.ProgressSample(nil), c.run.Progress...)
	return run
}

// Load performs the LOADING step. On failure the event is aborted, the mode
// signal cleared and the error returned.
func (c *Coordinator) Load(ctx context.Context) error {
	c.setStatus(coordination.StatusLoading)
	b, err := c.loadBaseline(ctx)
	if err != nil {
		return c.abort(ctx, err)
	}

	oracles := make(map[string]coordination.Oracle, len(c.cfg.Participants))
	for _, deviceID := range c.cfg.Participants {
		oracle, err := c.deps.Oracles.Resolve(ctx, deviceID, b.states[deviceID], b.actions[deviceID])
		if err != nil {
			return c.abort(ctx, fmt.Errorf("resolve oracle for device %s: %w", deviceID, err))
		}
		oracles[deviceID] = oracle
	}
	ranking, err := coordination.BuildRanking(ctx, coordination.RankingInput{
		Participants:     c.cfg.Participants,
		ActionSpace:      c.cfg.ActionSpace,
		BaselineActions:  b.actions,
		BaselineStates:   b.states,
		Oracles:          oracles,
		LegacyDownFilter: c.cfg.LegacyDownFilter,
	})
	if err != nil {
		return c.abort(ctx, err)
	}
	c.ladder = coordination.BuildLadder(b.actions, ranking)
	lo, hi := c.ladder.Range()

	c.mu.Lock()
	c.run.BaselinePower = b.power
	c.run.Target = b.power + c.event.PowerDelta
	c.run.MinLevel = lo
	c.run.MaxLevel = hi
	target := c.run.Target
	c.mu.Unlock()

	c.logger.Printf("coordinator: event loaded: event=%s baseline_power=%.2f target=%.2f levels=[%d,%d] up=%d down=%d",
		c.event.ID, b.power, target, lo, hi, len(ranking.Up), len(ranking.Down))
	return nil
}

// Run executes the RUNNING loop and returns the outcome. Load must have succeeded.
func (c *Coordinator) Run(ctx context.Context) coordination.Outcome {
	defer c.closeDone()
	if c.ladder == nil {
		_ = c.abort(ctx, errors.New("coordinator: run before load"))
		return coordination.OutcomeAborted
	}

	clock := c.deps.Clock
	interval := c.cfg.ControlInterval
	start := clock.Now()
	c.mu.Lock()
	c.run.Status = coordination.StatusRunning
	c.run.StartedAt = start
	c.mu.Unlock()
	c.persist(ctx)
	c.logger.Printf("coordinator: event running: event=%s duration=%s interval=%s", c.event.ID, c.event.Duration, interval)

	outcome := coordination.OutcomeCompleted
	var steps int64
loop:
	for {
		mode, changed := c.deps.Mode.Snapshot()
		if mode != coordination.ModeDRActive || ctx.Err() != nil {
			outcome = coordination.OutcomeInterrupted
			break
		}

		c.tick(ctx, time.Duration(steps)*interval)

		if wait := start.Add(time.Duration(steps+1) * interval).Sub(clock.Now()); wait > 0 {
			select {
			case <-clock.After(wait):
			case <-changed:
				outcome = coordination.OutcomeInterrupted
				break loop
			case <-ctx.Done():
				outcome = coordination.OutcomeInterrupted
				break loop
			}
		}

		current := int64(clock.Now().Sub(start) / interval)
		if current <= steps {
			current = steps + 1
		}
		if skipped := current - steps - 1; skipped > 0 {
			c.logger.Printf("coordinator: WARN skipped steps: event=%s skipped=%d event_time=%s", c.event.ID, skipped, time.Duration(current)*interval)
			metrics.AddSkippedSteps(int(skipped))
		}
		steps = current
		if time.Duration(steps)*interval >= c.event.Duration {
			break
		}
	}

	c.finish(ctx, outcome)
	return outcome
}

func (c *Coordinator) tick(ctx context.Context, eventTime time.Duration) {
	started := c.deps.Clock.Now()
	snap, err := c.deps.Telemetry.Latest(ctx, c.cfg.Participants)
	if err == nil {
		for _, deviceID := range c.cfg.Participants {
			if _, ok := snap.Devices[deviceID]; !ok {
				err = fmt.Errorf("%w: device %s missing from snapshot", coordination.ErrMeasurementsUnavailable, deviceID)
				break
			}
		}
	}
	if err != nil {
		c.logger.Printf("coordinator: WARN tick skipped: event=%s event_time=%s err=%v", c.event.ID, eventTime, err)
		metrics.ObserveTick(metrics.ResultError, c.deps.Clock.Now().Sub(started))
		return
	}

	c.mu.RLock()
	target := c.run.Target
	level := c.run.Level
	c.mu.RUnlock()

	desired := c.fc.Step(target, snap.AggregatePower)
	delta := int(math.Floor(desired - float64(level) + 0.5))
	next, saturated := c.ladder.Clamp(level + delta)
	if saturated {
		bound := "max"
		if level+delta < next {
			bound = "min"
		}
		c.logger.Printf("coordinator: WARN response level saturated: event=%s requested=%d clamped=%d", c.event.ID, level+delta, next)
		metrics.IncSaturation(bound)
	}
	actions, err := c.ladder.Actions(next)
	if err != nil {
		c.logger.Printf("coordinator: ERROR ladder lookup: event=%s level=%d err=%v", c.event.ID, next, err)
		metrics.ObserveTick(metrics.ResultError, c.deps.Clock.Now().Sub(started))
		return
	}

	batch := dispatch.Batch{
		EventID:  c.event.ID,
		Source:   dispatch.SourceEvent,
		Time:     started,
		Commands: make([]dispatch.Command, 0, len(c.cfg.Participants)),
	}
	for _, deviceID := range c.cfg.Participants {
		sample := snap.Devices[deviceID]
		batch.Commands = append(batch.Commands, dispatch.Command{
			DeviceID: deviceID,
			Action:   actions[deviceID],
			RoomTemp: sample.RoomTemp,
			Setpoint: sample.RoomSetpoint,
		})
	}
	var dispatchErr error
	if !c.deps.Mode.Guard(coordination.ModeDRActive, func() {
		_, dispatchErr = c.deps.Dispatcher.Dispatch(ctx, batch)
	}) {
		c.logger.Printf("coordinator: event cleared before dispatch: event=%s event_time=%s", c.event.ID, eventTime)
		return
	}
	if dispatchErr != nil {
		c.logger.Printf("coordinator: ERROR dispatch: event=%s event_time=%s err=%v", c.event.ID, eventTime, dispatchErr)
	}

	sample := coordination.ProgressSample{EventTime: eventTime, ObservedPower: snap.AggregatePower, Level: next}
	c.mu.Lock()
	c.run.Level = next
	c.run.Progress = append(c.run.Progress, sample)
	c.mu.Unlock()

	metrics.ObserveProgress(c.event.ID, next, snap.AggregatePower, target)
	metrics.ObserveTick(metrics.ResultSuccess, c.deps.Clock.Now().Sub(started))
	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.PublishProgress(ctx, c.event.ID, sample); err != nil {
			c.logger.Printf("coordinator: WARN publish progress: event=%s err=%v", c.event.ID, err)
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, outcome coordination.Outcome) {
	c.deps.Mode.EndEvent()
	if outcome == coordination.OutcomeInterrupted {
		c.setStatus(coordination.StatusInterrupted)
	}
	c.mu.Lock()
	c.run.Status = coordination.StatusFinished
	c.run.Outcome = outcome
	c.run.FinishedAt = c.deps.Clock.Now()
	samples := len(c.run.Progress)
	c.mu.Unlock()
	c.persist(context.WithoutCancel(ctx))
	metrics.IncEvent(string(outcome))
	metrics.ForgetEvent(c.event.ID)
	c.logger.Printf("coordinator: event finished: event=%s outcome=%s samples=%d", c.event.ID, outcome, samples)
	c.notify(context.WithoutCancel(ctx))
}

func (c *Coordinator) abort(ctx context.Context, cause error) error {
	c.deps.Mode.EndEvent()
	c.mu.Lock()
	c.run.Status = coordination.StatusAborted
	c.run.Outcome = coordination.OutcomeAborted
	c.run.Error = cause.Error()
	c.run.FinishedAt = c.deps.Clock.Now()
	c.mu.Unlock()
	c.persist(context.WithoutCancel(ctx))
	metrics.IncEvent(string(coordination.OutcomeAborted))
	c.logger.Printf("coordinator: ERROR event aborted: event=%s err=%v", c.event.ID, cause)
	c.notify(context.WithoutCancel(ctx))
	c.closeDone()
	return cause
}

func (c *Coordinator) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Coordinator) setStatus(status coordination.Status) {
	c.mu.Lock()
	c.run.Status = status
	c.mu.Unlock()
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.deps.Runs == nil {
		return
	}
	if err := c.deps.Runs.Save(ctx, c.Snapshot()); err != nil {
		c.logger.Printf("coordinator: WARN persist run: event=%s err=%v", c.event.ID, err)
	}
}

func (c *Coordinator) notify(ctx context.Context) {
	if c.deps.Notifier == nil {
		return
	}
	if err := c.deps.Notifier.NotifyOutcome(ctx, c.Snapshot()); err != nil {
		c.logger.Printf("coordinator: WARN notify outcome: event=%s err=%v", c.event.ID, err)
	}
}
