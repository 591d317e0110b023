package coordination

import (
	"context"
	"sync"
)

// Mode selects which controller owns dispatch.
type Mode string

const (
	ModeBAU      Mode = "bau"
	ModeDRActive Mode = "dr_active"
)

// ModeSignal is the single source of truth for dispatch ownership. Every
// transition closes the current change channel, waking all waiters.
type ModeSignal struct {
	mu      sync.RWMutex
	mode    Mode
	changed chan struct{}
}

// NewModeSignal returns a signal in BaU mode.
func NewModeSignal() *ModeSignal {
	return &ModeSignal{mode: ModeBAU, changed: make(chan struct{})}
}

// Mode returns the current mode.
func (s *ModeSignal) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Snapshot returns the current mode together with the channel closed at the
// next transition away from it.
func (s *ModeSignal) Snapshot() (Mode, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, s.changed
}

// Active reports whether a DR event owns dispatch.
func (s *ModeSignal) Active() bool { return s.Mode() == ModeDRActive }

// Changed returns a channel closed at the next transition.
func (s *ModeSignal) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// StartEvent switches to DR mode. It returns false if an event is already active.
// Once it returns true no guarded BaU work is running or can start.
func (s *ModeSignal) StartEvent() bool {
	return s.transition(ModeBAU, ModeDRActive)
}

// EndEvent switches back to BaU mode. It returns false if no event was active.
func (s *ModeSignal) EndEvent() bool {
	return s.transition(ModeDRActive, ModeBAU)
}

func (s *ModeSignal) transition(from, to Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != from {
		return false
	}
	s.mode = to
	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

// Guard runs fn while holding the signal in mode want. It returns false
// without calling fn if the signal is in another mode.
func (s *ModeSignal) Guard(want Mode, fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode != want {
		return false
	}
	fn()
	return true
}

// WaitFor blocks until the signal is in mode want or ctx is done.
func (s *ModeSignal) WaitFor(ctx context.Context, want Mode) error {
	for {
		mode, changed := s.Snapshot()
		if mode == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
