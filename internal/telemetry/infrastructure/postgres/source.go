package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"dr-coordinator/internal/telemetry/domain"
)

var trackedPoints = []string{
	telemetry.PointRoomTemp,
	telemetry.PointRoomSetpoint,
	telemetry.PointOutdoorTemp,
	telemetry.PointModulation,
	telemetry.PointSetpoint,
}

// ErrNoTelemetry indicates a device without stored telemetry.
var ErrNoTelemetry = errors.New("telemetry source: no telemetry")

// Source reads device samples from telemetry_points.
type Source struct {
	db    *sql.DB
	table string
}

// NewSource constructs a Source.
func NewSource(db *sql.DB) (*Source, error) {
	if db == nil {
		return nil, errors.New("telemetry source: nil db")
	}
	return &Source{db: db, table: defaultTelemetryTable}, nil
}

// Latest returns the newest sample of every device and their aggregate power.
// A device without telemetry fails the whole read.
func (s *Source) Latest(ctx context.Context, deviceIDs []string) (telemetry.Snapshot, error) {
	if s == nil || s.db == nil {
		return telemetry.Snapshot{}, errors.New("telemetry source: nil db")
	}
	samples := make([]telemetry.Sample, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		window, err := s.window(ctx, deviceID, 1)
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		if len(window) == 0 {
			return telemetry.Snapshot{}, fmt.Errorf("%w: device=%s", ErrNoTelemetry, deviceID)
		}
		samples = append(samples, window[0])
	}
	return telemetry.NewSnapshot(samples), nil
}

// RecentWindow returns up to size newest samples per device, oldest first.
func (s *Source) RecentWindow(ctx context.Context, deviceIDs []string, size int) (map[string][]telemetry.Sample, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("telemetry source: nil db")
	}
	if size <= 0 {
		return nil, errors.New("telemetry source: invalid window size")
	}
	result := make(map[string][]telemetry.Sample, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		window, err := s.window(ctx, deviceID, size)
		if err != nil {
			return nil, err
		}
		if len(window) == 0 {
			return nil, fmt.Errorf("%w: device=%s", ErrNoTelemetry, deviceID)
		}
		result[deviceID] = window
	}
	return result, nil
}

func (s *Source) window(ctx context.Context, deviceID string, size int) ([]telemetry.Sample, error) {
	query := fmt.Sprintf(`
SELECT ts, point_key, value_numeric
FROM %s
WHERE device_id = $1
	AND point_key = ANY($2)
	AND ts IN (
		SELECT DISTINCT ts FROM %s
		WHERE device_id = $1
		ORDER BY ts DESC
		LIMIT $3
	)
ORDER BY ts ASC`, s.table, s.table)

	rows, err := s.db.QueryContext(ctx, query, deviceID, trackedPoints, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byTime := make(map[time.Time]map[string]float64)
	order := make([]time.Time, 0, size)
	for rows.Next() {
		var ts time.Time
		var pointKey string
		var value sql.NullFloat64
		if err := rows.Scan(&ts, &pointKey, &value); err != nil {
			return nil, err
		}
		ts = ts.UTC()
		values, ok := byTime[ts]
		if !ok {
			values = make(map[string]float64)
			byTime[ts] = values
			order = append(order, ts)
		}
		if value.Valid {
			values[pointKey] = value.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	samples := make([]telemetry.Sample, 0, len(order))
	for _, ts := range order {
		samples = append(samples, telemetry.SampleFromValues(deviceID, ts, byTime[ts]))
	}
	return samples, nil
}
