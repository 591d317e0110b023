package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"

	"github.com/google/uuid"
)

const defaultHandoffTimeout = 30 * time.Second

// Service owns the event lifecycle: it flips the mode signal, waits for the
// BaU controller to park and runs one coordinator at a time.
type Service struct {
	cfg     Config
	deps    Deps
	bau     *DefaultController
	logger  *log.Logger
	baseCtx context.Context
	newID   func() string
	handoff time.Duration

	startMu sync.Mutex

	mu      sync.RWMutex
	current *Coordinator
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithIDGenerator overrides event id generation.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithHandoffTimeout bounds the wait for the BaU controller to park.
func WithHandoffTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.handoff = d
		}
	}
}

// NewService constructs a Service. Running events are bound to baseCtx.
func NewService(baseCtx context.Context, cfg Config, deps Deps, bau *DefaultController, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		cfg:     cfg,
		deps:    deps,
		bau:     bau,
		logger:  logger,
		baseCtx: baseCtx,
		newID:   uuid.NewString,
		handoff: defaultHandoffTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start triggers a DR event. LOADING runs synchronously so baseline failures
// reach the caller; the control loop then runs in the background.
func (s *Service) Start(ctx context.Context, duration time.Duration, powerDelta float64) (coordination.Run, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	event, err := coordination.NewEvent(s.newID(), duration, powerDelta, s.deps.Clock.Now())
	if err != nil {
		return coordination.Run{}, err
	}
	coord, err := NewCoordinator(event, s.cfg, s.deps, s.logger)
	if err != nil {
		return coordination.Run{}, err
	}
	if !s.deps.Mode.StartEvent() {
		return coordination.Run{}, coordination.ErrEventActive
	}
	s.logger.Printf("coordinator: event started: event=%s duration=%s power_delta=%.2f", event.ID, duration, powerDelta)

	if s.bau != nil {
		waitCtx, cancel := context.WithTimeout(ctx, s.handoff)
		err := s.bau.WaitStopped(waitCtx)
		cancel()
		if err != nil {
			s.logger.Printf("coordinator: WARN default controller did not park: event=%s err=%v", event.ID, err)
		}
	}

	s.mu.Lock()
	s.current = coord
	s.mu.Unlock()

	if err := coord.Load(ctx); err != nil {
		return coord.Snapshot(), fmt.Errorf("coordinator: load event %s: %w", event.ID, err)
	}
	go coord.Run(s.baseCtx)
	return coord.Snapshot(), nil
}

// Cancel interrupts the active event.
func (s *Service) Cancel(_ context.Context) (coordination.Run, error) {
	if !s.deps.Mode.EndEvent() {
		return coordination.Run{}, coordination.ErrNoActiveEvent
	}
	s.mu.RLock()
	coord := s.current
	s.mu.RUnlock()
	if coord == nil {
		return coordination.Run{}, nil
	}
	s.logger.Printf("coordinator: event cancelled: event=%s", coord.event.ID)
	return coord.Snapshot(), nil
}

// Current returns the latest event run, if any.
func (s *Service) Current() (coordination.Run, bool) {
	s.mu.RLock()
	coord := s.current
	s.mu.RUnlock()
	if coord == nil {
		return coordination.Run{}, false
	}
	return coord.Snapshot(), true
}

// Active reports whether an event owns dispatch.
func (s *Service) Active() bool {
	return s.deps.Mode.Active()
}

// Get returns the run of an event, preferring live state over storage.
func (s *Service) Get(ctx context.Context, id string) (*coordination.Run, error) {
	if id == "" {
		return nil, errors.New("coordinator: empty event id")
	}
	if run, ok := s.Current(); ok && run.ID == id {
		return &run, nil
	}
	if s.deps.Runs == nil {
		return nil, coordination.ErrEventNotFound
	}
	return s.deps.Runs.Get(ctx, id)
}

// Wait blocks until the current event has reached a terminal state.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.RLock()
	coord := s.current
	s.mu.RUnlock()
	if coord == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-coord.Done():
		return nil
	}
}
