package coordination

import (
	"fmt"
	"time"
)

// Event is a demand-response request: shift aggregate power by PowerDelta
// from baseline for Duration.
type Event struct {
	ID         string
	Duration   time.Duration
	PowerDelta float64
	CreatedAt  time.Time
}

// NewEvent validates and constructs an Event.
func NewEvent(id string, duration time.Duration, powerDelta float64, createdAt time.Time) (Event, error) {
	if id == "" {
		return Event{}, fmt.Errorf("%w: empty id", ErrInvalidEvent)
	}
	if duration <= 0 {
		return Event{}, fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidEvent, duration)
	}
	return Event{
		ID:         id,
		Duration:   duration,
		PowerDelta: powerDelta,
		CreatedAt:  createdAt.UTC(),
	}, nil
}

// Status is the lifecycle state of an event run.
type Status string

const (
	StatusInit        Status = "init"
	StatusLoading     Status = "loading"
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusFinished    Status = "finished"
	StatusAborted     Status = "aborted"
)

// Outcome records how a finished event ended.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeAborted     Outcome = "aborted"
)

// ProgressSample is one entry of the event telemetry sequence.
type ProgressSample struct {
	EventTime     time.Duration `json:"event_time"`
	ObservedPower float64       `json:"observed_power"`
	Level         int           `json:"response_level"`
}

// Run is the persisted summary of an event.
type Run struct {
	ID            string
	Duration      time.Duration
	PowerDelta    float64
	BaselinePower float64
	Target        float64
	Level         int
	MinLevel      int
	MaxLevel      int
	Status        Status
	Outcome       Outcome
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Progress      []ProgressSample
}
