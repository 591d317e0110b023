package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	dispatch "dr-coordinator/internal/dispatch/domain"
)

const fileTimeLayout = "2006-01-02_15_04_05"

var header = []string{"house_id", "t_r", "t_r_set", "action", "t_set", "backup_action"}

// Recorder writes every batch into its own CSV file under dir.
type Recorder struct {
	dir string
	now func() time.Time
}

// NewRecorder constructs a Recorder, creating dir if needed.
func NewRecorder(dir string) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("csv recorder: empty dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv recorder: %w", err)
	}
	return &Recorder{dir: dir, now: time.Now}, nil
}

// FileName returns the file a batch stamped at ts is written to.
func FileName(ts time.Time) string {
	return "dispatched_actions_" + ts.Format(fileTimeLayout) + ".csv"
}

// RecordBatch writes the batch keyed by its batch time.
func (r *Recorder) RecordBatch(_ context.Context, records []dispatch.Record) error {
	if len(records) == 0 {
		return nil
	}
	ts := records[0].BatchTime
	if ts.IsZero() {
		ts = r.now()
	}
	path := filepath.Join(r.dir, FileName(ts))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv recorder: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	for _, rec := range records {
		if err := w.Write([]string{
			rec.ExternalID,
			formatFloat(rec.RoomTemp),
			formatFloat(rec.SetpointTemp),
			strconv.Itoa(int(rec.Action)),
			formatFloat(rec.MappedSetpoint),
			strconv.FormatBool(rec.BackupTriggered),
		}); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
