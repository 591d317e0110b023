package dispatch

import (
	"errors"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
)

// Dispatch sources.
const (
	SourceEvent = "dr"
	SourceBAU   = "bau"
)

// Backup override directions.
const (
	BackupNone = ""
	BackupCool = "cool"
	BackupHeat = "heat"
)

var (
	// ErrIncompleteActionMapping indicates a setpoint table that misses an action.
	ErrIncompleteActionMapping = errors.New("dispatch: incomplete action mapping")
	// ErrEmptyBatch indicates a batch without commands.
	ErrEmptyBatch = errors.New("dispatch: empty batch")
)

// Command asks for one device to run an action, with the readings the
// backup override is evaluated against.
type Command struct {
	DeviceID string
	Action   coordination.Action
	RoomTemp float64
	Setpoint float64
}

// Batch is the set of commands issued in one control step.
type Batch struct {
	EventID  string
	Source   string
	Time     time.Time
	Commands []Command
}

// Record is the dispatched outcome of one command.
type Record struct {
	EventID         string
	BatchTime       time.Time
	DeviceID        string
	ExternalID      string
	RoomTemp        float64
	SetpointTemp    float64
	RequestedAction coordination.Action
	Action          coordination.Action
	MappedSetpoint  float64
	BackupTriggered bool
	BackupDirection string
	Delivered       bool
	Error           string
	Source          string
}

// SetpointTable maps every action to a device temperature setpoint.
type SetpointTable map[coordination.Action]float64

// Covers reports the first action of space missing from the table.
func (t SetpointTable) Covers(space coordination.ActionSpace) (coordination.Action, bool) {
	for _, action := range space {
		if _, ok := t[action]; !ok {
			return action, false
		}
	}
	return 0, true
}
