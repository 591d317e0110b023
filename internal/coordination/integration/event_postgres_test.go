package integration_test

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	coordinationapp "dr-coordinator/internal/coordination/application"
	coordination "dr-coordinator/internal/coordination/domain"
	coordinationrepo "dr-coordinator/internal/coordination/infrastructure/postgres"
	dispatchapp "dr-coordinator/internal/dispatch/application"
	dispatch "dr-coordinator/internal/dispatch/domain"
	dispatchrepo "dr-coordinator/internal/dispatch/infrastructure/postgres"
	telemetry "dr-coordinator/internal/telemetry/domain"
	telemetrypostgres "dr-coordinator/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestEvent_PostgresClosedLoop(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	devices := []string{"it-house-a", "it-house-b"}
	_, _ = db.ExecContext(ctx, "DELETE FROM telemetry_points WHERE device_id = ANY($1)", devices)
	_, _ = db.ExecContext(ctx, "DELETE FROM dispatch_logs WHERE device_id = ANY($1)", devices)
	_, _ = db.ExecContext(ctx, "DELETE FROM dr_events WHERE id = 'it-event'")

	telemetryRepo := telemetrypostgres.NewTelemetryRepository(db)
	end := time.Now().UTC().Truncate(time.Minute)
	for _, deviceID := range devices {
		if err := telemetryRepo.InsertMeasurements(ctx, seedWindow(deviceID, end, 6)); err != nil {
			t.Fatalf("seed telemetry: %v", err)
		}
	}

	source, err := telemetrypostgres.NewSource(db)
	if err != nil {
		t.Fatalf("telemetry source: %v", err)
	}
	snap, err := source.Latest(ctx, devices)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap.AggregatePower != 10 || len(snap.Devices) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	dispatchRepo := dispatchrepo.NewRepository(db)
	sink := &recordingSink{}
	dispatcher, err := dispatchapp.NewDispatcher(dispatchapp.Options{
		ActionSpace:      coordination.ActionSpace{0, 1},
		DefaultSetpoints: dispatch.SetpointTable{0: 15, 1: 25},
		EnableDispatch:   true,
	}, sink, dispatchRepo, log.New(os.Stdout, "", log.LstdFlags))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	events := coordinationrepo.NewEventRepository(db)
	cfg := coordinationapp.Config{
		Participants:              devices,
		ActionSpace:               coordination.ActionSpace{0, 1},
		TrajectoryLength:          4,
		TrajectoryInterval:        15 * time.Minute,
		ControlInterval:           50 * time.Millisecond,
		Kp:                        0.25,
		BaselineSetpointThreshold: 20,
	}
	svc, err := coordinationapp.NewService(ctx, cfg, coordinationapp.Deps{
		Telemetry:  source,
		Oracles:    constantResolver{devices[0]: {0, 3}, devices[1]: {0, 1}},
		Dispatcher: dispatcher,
		Mode:       coordination.NewModeSignal(),
		Runs:       events,
	}, nil, log.New(os.Stdout, "", log.LstdFlags), coordinationapp.WithIDGenerator(func() string { return "it-event" }))
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	if _, err := svc.Start(ctx, 150*time.Millisecond, 4); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := svc.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	stored, err := events.Get(ctx, "it-event")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if stored.Status != coordination.StatusFinished || stored.Outcome != coordination.OutcomeCompleted {
		t.Fatalf("expected finished/completed, got %s/%s", stored.Status, stored.Outcome)
	}
	if stored.BaselinePower != 10 || stored.Target != 14 || stored.MaxLevel != 2 {
		t.Fatalf("unexpected stored run: %+v", stored)
	}
	if len(stored.Progress) == 0 {
		t.Fatalf("expected persisted progress samples")
	}

	records, err := dispatchRepo.ListByEvent(ctx, "it-event")
	if err != nil {
		t.Fatalf("list dispatch logs: %v", err)
	}
	if len(records) != 2*len(stored.Progress) {
		t.Fatalf("expected %d dispatch rows, got %d", 2*len(stored.Progress), len(records))
	}
	for _, rec := range records {
		if !rec.Delivered || rec.Source != dispatch.SourceEvent {
			t.Fatalf("unexpected dispatch record: %+v", rec)
		}
	}
	if sink.count() != len(records) {
		t.Fatalf("expected %d sink calls, got %d", len(records), sink.count())
	}

	if _, err := events.Get(ctx, "missing-event"); err != coordination.ErrEventNotFound {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func seedWindow(deviceID string, end time.Time, n int) []telemetry.Measurement {
	var out []telemetry.Measurement
	for i := 0; i < n; i++ {
		ts := end.Add(-time.Duration(n-1-i) * 15 * time.Minute)
		values := map[string]float64{
			telemetry.PointRoomTemp:     20,
			telemetry.PointRoomSetpoint: 21,
			telemetry.PointOutdoorTemp:  4,
			telemetry.PointModulation:   5,
			telemetry.PointSetpoint:     18,
		}
		for key, value := range values {
			out = append(out, telemetry.Measurement{DeviceID: deviceID, PointKey: key, TS: ts, Value: value, Quality: "good"})
		}
	}
	return out
}

type constantOracle []float64

func (o constantOracle) Score(context.Context, coordination.DeviceState) ([]float64, error) {
	return append([]float64(nil), o...), nil
}

type constantResolver map[string]constantOracle

func (r constantResolver) Resolve(_ context.Context, deviceID string, _ coordination.DeviceState, _ coordination.Action) (coordination.Oracle, error) {
	return r[deviceID], nil
}

type recordingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *recordingSink) SetTemperatureSetpoint(context.Context, string, float64) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func applyMigrations(db *sql.DB) error {
	content, err := os.ReadFile(filepath.Join(projectRoot(), "migrations", "001_init.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(content))
	return err
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}
