package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestModeSignal_Transitions(t *testing.T) {
	s := NewModeSignal()
	if s.Mode() != ModeBAU {
		t.Fatalf("expected initial BaU mode")
	}
	if s.EndEvent() {
		t.Fatalf("expected EndEvent to fail in BaU mode")
	}
	changed := s.Changed()
	if !s.StartEvent() {
		t.Fatalf("expected StartEvent to succeed")
	}
	select {
	case <-changed:
	default:
		t.Fatalf("expected change channel closed on transition")
	}
	if s.StartEvent() {
		t.Fatalf("expected second StartEvent to fail")
	}
	if !s.Active() {
		t.Fatalf("expected active mode")
	}
	if !s.EndEvent() || s.Active() {
		t.Fatalf("expected EndEvent to return to BaU")
	}
}

func TestModeSignal_SnapshotChannelMatchesMode(t *testing.T) {
	s := NewModeSignal()
	mode, changed := s.Snapshot()
	if mode != ModeBAU {
		t.Fatalf("expected BaU snapshot, got %s", mode)
	}
	s.StartEvent()
	select {
	case <-changed:
	default:
		t.Fatalf("expected snapshot channel closed when leaving BaU")
	}
	mode, changed = s.Snapshot()
	if mode != ModeDRActive {
		t.Fatalf("expected DR snapshot, got %s", mode)
	}
	select {
	case <-changed:
		t.Fatalf("fresh snapshot channel must be open")
	default:
	}
}

func TestModeSignal_WaitFor(t *testing.T) {
	s := NewModeSignal()
	done := make(chan error, 1)
	go func() { done <- s.WaitFor(context.Background(), ModeDRActive) }()
	time.Sleep(10 * time.Millisecond)
	s.StartEvent()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitFor did not return after transition")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WaitFor(ctx, ModeBAU); err == nil {
		t.Fatalf("expected context error")
	}
}

// No guarded BaU work may run after StartEvent has returned.
func TestModeSignal_GuardExcludesAfterStart(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := NewModeSignal()
		var started atomic.Bool
		var violations atomic.Int32
		var wg sync.WaitGroup
		stop := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					s.Guard(ModeBAU, func() {
						if started.Load() {
							violations.Add(1)
						}
					})
				}
			}()
		}
		time.Sleep(time.Millisecond)
		s.StartEvent()
		started.Store(true)
		time.Sleep(time.Millisecond)
		close(stop)
		wg.Wait()
		if n := violations.Load(); n != 0 {
			t.Fatalf("round %d: %d guarded BaU calls ran after StartEvent", round, n)
		}
	}
}
