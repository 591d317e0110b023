package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	coordination "dr-coordinator/internal/coordination/domain"
	dispatch "dr-coordinator/internal/dispatch/domain"
	"dr-coordinator/internal/observability/metrics"
)

// SetpointSink delivers a temperature setpoint to a device.
type SetpointSink interface {
	SetTemperatureSetpoint(ctx context.Context, externalID string, setpoint float64) error
}

// Recorder persists a dispatched batch.
type Recorder interface {
	RecordBatch(ctx context.Context, records []dispatch.Record) error
}

// Options configures a Dispatcher.
type Options struct {
	ActionSpace      coordination.ActionSpace
	DefaultSetpoints dispatch.SetpointTable
	DeviceSetpoints  map[string]dispatch.SetpointTable
	// ExternalIDs maps internal device ids to vendor ids; unmapped ids pass through.
	ExternalIDs map[string]string
	// Simulated devices are recorded but never sent to the sink.
	Simulated      map[string]bool
	BackupBand     float64
	EnableBackup   bool
	EnableDispatch bool
}

// Dispatcher applies the backup override, maps actions to setpoints and
// delivers them. Batches are serialized.
type Dispatcher struct {
	mu       sync.Mutex
	opts     Options
	sink     SetpointSink
	recorder Recorder
	logger   *log.Logger
}

// NewDispatcher validates the setpoint tables against the action space.
func NewDispatcher(opts Options, sink SetpointSink, recorder Recorder, logger *log.Logger) (*Dispatcher, error) {
	if err := opts.ActionSpace.Validate(); err != nil {
		return nil, err
	}
	if opts.EnableDispatch && sink == nil {
		return nil, errors.New("dispatcher: nil setpoint sink")
	}
	if opts.BackupBand < 0 {
		return nil, errors.New("dispatcher: negative backup band")
	}
	if missing, ok := opts.DefaultSetpoints.Covers(opts.ActionSpace); !ok {
		return nil, fmt.Errorf("%w: default table misses action %d", dispatch.ErrIncompleteActionMapping, missing)
	}
	for deviceID, table := range opts.DeviceSetpoints {
		if missing, ok := table.Covers(opts.ActionSpace); !ok {
			return nil, fmt.Errorf("%w: device %s misses action %d", dispatch.ErrIncompleteActionMapping, deviceID, missing)
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{opts: opts, sink: sink, recorder: recorder, logger: logger}, nil
}

// SetpointFor returns the mapped setpoint of action for a device.
func (d *Dispatcher) SetpointFor(deviceID string, action coordination.Action) (float64, bool) {
	if table, ok := d.opts.DeviceSetpoints[deviceID]; ok {
		setpoint, ok := table[action]
		return setpoint, ok
	}
	setpoint, ok := d.opts.DefaultSetpoints[action]
	return setpoint, ok
}

// Dispatch sends every command of the batch. A failing device is logged and
// does not stop the batch; only an invalid batch or a recorder failure errors.
func (d *Dispatcher) Dispatch(ctx context.Context, batch dispatch.Batch) ([]dispatch.Record, error) {
	if d == nil {
		return nil, errors.New("dispatcher: nil")
	}
	if len(batch.Commands) == 0 {
		return nil, dispatch.ErrEmptyBatch
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	records := make([]dispatch.Record, 0, len(batch.Commands))
	for _, cmd := range batch.Commands {
		records = append(records, d.dispatchOne(ctx, batch, cmd))
	}
	if d.recorder != nil {
		if err := d.recorder.RecordBatch(ctx, records); err != nil {
			return records, fmt.Errorf("dispatcher: record batch: %w", err)
		}
	}
	return records, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, batch dispatch.Batch, cmd dispatch.Command) dispatch.Record {
	rec := dispatch.Record{
		EventID:         batch.EventID,
		BatchTime:       batch.Time.UTC(),
		DeviceID:        cmd.DeviceID,
		ExternalID:      d.externalID(cmd.DeviceID),
		RoomTemp:        cmd.RoomTemp,
		SetpointTemp:    cmd.Setpoint,
		RequestedAction: cmd.Action,
		Action:          cmd.Action,
		Source:          batch.Source,
	}
	if !d.opts.ActionSpace.Contains(cmd.Action) {
		rec.Error = fmt.Sprintf("action %d not in action space", cmd.Action)
		d.logger.Printf("dispatcher: ERROR unknown action: device=%s action=%d", cmd.DeviceID, cmd.Action)
		metrics.IncDispatch(batch.Source, metrics.DispatchResultFailed)
		return rec
	}

	if d.opts.EnableBackup {
		switch {
		case cmd.RoomTemp > cmd.Setpoint+d.opts.BackupBand:
			rec.Action = d.opts.ActionSpace.Min()
			rec.BackupDirection = dispatch.BackupCool
		case cmd.RoomTemp < cmd.Setpoint-d.opts.BackupBand:
			rec.Action = d.opts.ActionSpace.Max()
			rec.BackupDirection = dispatch.BackupHeat
		}
		if rec.BackupDirection != dispatch.BackupNone {
			rec.BackupTriggered = true
			metrics.IncBackupOverride(rec.BackupDirection)
			d.logger.Printf("dispatcher: backup override: device=%s t_r=%.2f t_r_set=%.2f action=%d->%d",
				cmd.DeviceID, cmd.RoomTemp, cmd.Setpoint, cmd.Action, rec.Action)
		}
	}

	if table, ok := d.opts.DeviceSetpoints[cmd.DeviceID]; ok {
		rec.MappedSetpoint = table[rec.Action]
	} else {
		d.logger.Printf("dispatcher: WARN no setpoint table for device=%s, using default", cmd.DeviceID)
		rec.MappedSetpoint = d.opts.DefaultSetpoints[rec.Action]
	}

	if !d.opts.EnableDispatch || d.opts.Simulated[cmd.DeviceID] {
		metrics.IncDispatch(batch.Source, metrics.DispatchResultSkipped)
		return rec
	}
	if err := d.sink.SetTemperatureSetpoint(ctx, rec.ExternalID, rec.MappedSetpoint); err != nil {
		rec.Error = err.Error()
		d.logger.Printf("dispatcher: ERROR delivery failed: device=%s external=%s err=%v", cmd.DeviceID, rec.ExternalID, err)
		metrics.IncDispatch(batch.Source, metrics.DispatchResultFailed)
		return rec
	}
	rec.Delivered = true
	metrics.IncDispatch(batch.Source, metrics.DispatchResultDelivered)
	return rec
}

func (d *Dispatcher) externalID(deviceID string) string {
	if id, ok := d.opts.ExternalIDs[deviceID]; ok && id != "" {
		return id
	}
	return deviceID
}
