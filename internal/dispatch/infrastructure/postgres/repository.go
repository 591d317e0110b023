package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
	dispatch "dr-coordinator/internal/dispatch/domain"
)

// Repository persists dispatch records into dispatch_logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordBatch upserts one row per device of the batch.
func (r *Repository) RecordBatch(ctx context.Context, records []dispatch.Record) error {
	if r == nil || r.db == nil {
		return errors.New("dispatch repo: nil db")
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO dispatch_logs (
	batch_time, device_id, event_id, external_id, source,
	room_temp, setpoint_temp, requested_action, action, mapped_setpoint,
	backup_triggered, backup_direction, delivered, error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (batch_time, device_id)
DO UPDATE SET
	event_id = EXCLUDED.event_id,
	external_id = EXCLUDED.external_id,
	source = EXCLUDED.source,
	room_temp = EXCLUDED.room_temp,
	setpoint_temp = EXCLUDED.setpoint_temp,
	requested_action = EXCLUDED.requested_action,
	action = EXCLUDED.action,
	mapped_setpoint = EXCLUDED.mapped_setpoint,
	backup_triggered = EXCLUDED.backup_triggered,
	backup_direction = EXCLUDED.backup_direction,
	delivered = EXCLUDED.delivered,
	error = EXCLUDED.error`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.DeviceID == "" || rec.BatchTime.IsZero() {
			_ = tx.Rollback()
			return errors.New("dispatch repo: invalid record")
		}
		if _, err := stmt.ExecContext(ctx,
			rec.BatchTime.UTC(),
			rec.DeviceID,
			nullString(rec.EventID),
			rec.ExternalID,
			rec.Source,
			rec.RoomTemp,
			rec.SetpointTemp,
			int(rec.RequestedAction),
			int(rec.Action),
			rec.MappedSetpoint,
			rec.BackupTriggered,
			rec.BackupDirection,
			rec.Delivered,
			rec.Error,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListByEvent returns the dispatch records of an event ordered by batch time.
func (r *Repository) ListByEvent(ctx context.Context, eventID string) ([]dispatch.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("dispatch repo: nil db")
	}
	if eventID == "" {
		return nil, errors.New("dispatch repo: empty event id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT batch_time, device_id, event_id, external_id, source,
	room_temp, setpoint_temp, requested_action, action, mapped_setpoint,
	backup_triggered, backup_direction, delivered, error
FROM dispatch_logs
WHERE event_id = $1
ORDER BY batch_time ASC, device_id ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []dispatch.Record
	for rows.Next() {
		var (
			rec       dispatch.Record
			batchTime time.Time
			event     sql.NullString
			requested int
			action    int
		)
		if err := rows.Scan(
			&batchTime, &rec.DeviceID, &event, &rec.ExternalID, &rec.Source,
			&rec.RoomTemp, &rec.SetpointTemp, &requested, &action, &rec.MappedSetpoint,
			&rec.BackupTriggered, &rec.BackupDirection, &rec.Delivered, &rec.Error,
		); err != nil {
			return nil, err
		}
		rec.BatchTime = batchTime.UTC()
		rec.EventID = event.String
		rec.RequestedAction = coordination.Action(requested)
		rec.Action = coordination.Action(action)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
