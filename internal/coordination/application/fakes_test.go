package application

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
	dispatch "dr-coordinator/internal/dispatch/domain"
	telemetry "dr-coordinator/internal/telemetry/domain"
)

var t0 = time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)

// fakeClock jumps forward instead of sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// blockingClock never fires timers.
type blockingClock struct{}

func (blockingClock) Now() time.Time                       { return time.Now().UTC() }
func (blockingClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type fakeTelemetry struct {
	mu        sync.Mutex
	windows   map[string][]telemetry.Sample
	windowErr error
	latest    map[string]telemetry.Sample
	powers    []float64
	failCalls map[int]bool
	calls     int
	onLatest  func(call int)
}

func (f *fakeTelemetry) Latest(_ context.Context, deviceIDs []string) (telemetry.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.onLatest
	fail := f.failCalls[call]
	power := 0.0
	if len(f.powers) > 0 {
		idx := call - 1
		if idx >= len(f.powers) {
			idx = len(f.powers) - 1
		}
		power = f.powers[idx]
	}
	devices := make(map[string]telemetry.Sample, len(deviceIDs))
	for _, id := range deviceIDs {
		if sample, ok := f.latest[id]; ok {
			devices[id] = sample
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if fail {
		return telemetry.Snapshot{}, errors.New("telemetry timeout")
	}
	return telemetry.Snapshot{Timestamp: t0, Devices: devices, AggregatePower: power}, nil
}

func (f *fakeTelemetry) RecentWindow(_ context.Context, deviceIDs []string, _ int) (map[string][]telemetry.Sample, error) {
	if f.windowErr != nil {
		return nil, f.windowErr
	}
	out := make(map[string][]telemetry.Sample, len(deviceIDs))
	for _, id := range deviceIDs {
		out[id] = f.windows[id]
	}
	return out, nil
}

type staticOracle []float64

func (o staticOracle) Score(context.Context, coordination.DeviceState) ([]float64, error) {
	return append([]float64(nil), o...), nil
}

type fakeResolver map[string]coordination.Oracle

func (r fakeResolver) Resolve(_ context.Context, deviceID string, _ coordination.DeviceState, _ coordination.Action) (coordination.Oracle, error) {
	oracle, ok := r[deviceID]
	if !ok {
		return nil, errors.New("no model")
	}
	return oracle, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	batches   []dispatch.Batch
	setpoints dispatch.SetpointTable
	onBatch   func(batch dispatch.Batch)
}

func (d *fakeDispatcher) Dispatch(_ context.Context, batch dispatch.Batch) ([]dispatch.Record, error) {
	if d.onBatch != nil {
		d.onBatch(batch)
	}
	d.mu.Lock()
	d.batches = append(d.batches, batch)
	d.mu.Unlock()
	return nil, nil
}

func (d *fakeDispatcher) SetpointFor(_ string, action coordination.Action) (float64, bool) {
	v, ok := d.setpoints[action]
	return v, ok
}

func (d *fakeDispatcher) Batches(source string) []dispatch.Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dispatch.Batch
	for _, b := range d.batches {
		if b.Source == source {
			out = append(out, b)
		}
	}
	return out
}

type memoryRuns struct {
	mu   sync.Mutex
	runs map[string]coordination.Run
}

func (m *memoryRuns) Save(_ context.Context, run coordination.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]coordination.Run{}
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memoryRuns) Get(_ context.Context, id string) (*coordination.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, coordination.ErrEventNotFound
	}
	return &run, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*log.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return log.New(buf, "", 0), buf
}

// window builds n samples at a fixed interval ending with the given setpoint and modulation.
func window(deviceID string, n int, interval time.Duration, setpoint, modulation float64) []telemetry.Sample {
	out := make([]telemetry.Sample, n)
	for i := range out {
		out[i] = telemetry.Sample{
			DeviceID:     deviceID,
			Timestamp:    t0.Add(time.Duration(i-n) * interval),
			RoomTemp:     20,
			RoomSetpoint: 21,
			OutdoorTemp:  4,
			Modulation:   modulation,
			Setpoint:     setpoint,
		}
	}
	return out
}

const controlInterval = time.Minute

func twoDeviceConfig() Config {
	return Config{
		Participants:              []string{"A", "B"},
		ActionSpace:               coordination.ActionSpace{0, 1},
		TrajectoryLength:          4,
		TrajectoryInterval:        15 * time.Minute,
		ControlInterval:           controlInterval,
		Kp:                        0.25,
		BaselineSetpointThreshold: 20,
	}
}

type fixture struct {
	cfg        Config
	telemetry  *fakeTelemetry
	dispatcher *fakeDispatcher
	mode       *coordination.ModeSignal
	clock      *fakeClock
	runs       *memoryRuns
	logger     *log.Logger
	logs       *syncBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, logs := testLogger()
	return &fixture{
		cfg: twoDeviceConfig(),
		telemetry: &fakeTelemetry{
			windows: map[string][]telemetry.Sample{
				"A": window("A", 6, 15*time.Minute, 18, 5),
				"B": window("B", 6, 15*time.Minute, 18, 5),
			},
			latest: map[string]telemetry.Sample{
				"A": {DeviceID: "A", RoomTemp: 20, RoomSetpoint: 21},
				"B": {DeviceID: "B", RoomTemp: 20, RoomSetpoint: 21},
			},
		},
		dispatcher: &fakeDispatcher{setpoints: dispatch.SetpointTable{0: 15, 1: 25}},
		mode:       coordination.NewModeSignal(),
		clock:      newFakeClock(),
		runs:       &memoryRuns{},
		logger:     logger,
		logs:       logs,
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Telemetry: f.telemetry,
		Oracles: fakeResolver{
			"A": staticOracle{0, 3},
			"B": staticOracle{0, 1},
		},
		Dispatcher: f.dispatcher,
		Mode:       f.mode,
		Clock:      f.clock,
		Runs:       f.runs,
	}
}

func (f *fixture) service(t *testing.T, bau *DefaultController) *Service {
	t.Helper()
	n := 0
	svc, err := NewService(context.Background(), f.cfg, f.deps(), bau, f.logger, WithIDGenerator(func() string {
		n++
		return "evt-" + string(rune('0'+n))
	}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func waitDone(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("wait for event: %v", err)
	}
}
