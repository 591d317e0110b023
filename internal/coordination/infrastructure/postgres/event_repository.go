package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
)

// EventRepository persists event runs into dr_events.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Save upserts the run, replacing its progress sequence.
func (r *EventRepository) Save(ctx context.Context, run coordination.Run) error {
	if r == nil || r.db == nil {
		return errors.New("event repo: nil db")
	}
	if run.ID == "" {
		return errors.New("event repo: empty id")
	}
	progress := run.Progress
	if progress == nil {
		progress = []coordination.ProgressSample{}
	}
	payload, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO dr_events (
	id, duration_seconds, power_delta, baseline_power, target_power,
	response_level, min_level, max_level, status, outcome, error,
	progress, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id)
DO UPDATE SET
	baseline_power = EXCLUDED.baseline_power,
	target_power = EXCLUDED.target_power,
	response_level = EXCLUDED.response_level,
	min_level = EXCLUDED.min_level,
	max_level = EXCLUDED.max_level,
	status = EXCLUDED.status,
	outcome = EXCLUDED.outcome,
	error = EXCLUDED.error,
	progress = EXCLUDED.progress,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	updated_at = NOW()`,
		run.ID, int64(run.Duration/time.Second), run.PowerDelta, run.BaselinePower, run.Target,
		run.Level, run.MinLevel, run.MaxLevel, string(run.Status), string(run.Outcome), run.Error,
		payload, nullTime(run.StartedAt), nullTime(run.FinishedAt),
	)
	return err
}

// Get loads a run by id.
func (r *EventRepository) Get(ctx context.Context, id string) (*coordination.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	var (
		run        coordination.Run
		seconds    int64
		status     string
		outcome    string
		payload    []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, duration_seconds, power_delta, baseline_power, target_power,
	response_level, min_level, max_level, status, outcome, error,
	progress, started_at, finished_at
FROM dr_events
WHERE id = $1`, id).Scan(
		&run.ID, &seconds, &run.PowerDelta, &run.BaselinePower, &run.Target,
		&run.Level, &run.MinLevel, &run.MaxLevel, &status, &outcome, &run.Error,
		&payload, &startedAt, &finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coordination.ErrEventNotFound
		}
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &run.Progress); err != nil {
			return nil, err
		}
	}
	run.Duration = time.Duration(seconds) * time.Second
	run.Status = coordination.Status(status)
	run.Outcome = coordination.Outcome(outcome)
	if startedAt.Valid {
		run.StartedAt = startedAt.Time.UTC()
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time.UTC()
	}
	return &run, nil
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
