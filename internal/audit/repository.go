package audit

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"
)

// Repository writes audit logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = normalize(entry)
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		nullJSON(entry.Metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

// LogWriter writes audit entries to a logger when no database is configured.
type LogWriter struct {
	logger *log.Logger
}

// NewLogWriter constructs a LogWriter.
func NewLogWriter(logger *log.Logger) *LogWriter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogWriter{logger: logger}
}

// Log prints the entry.
func (w *LogWriter) Log(_ context.Context, entry Entry) error {
	entry = normalize(entry)
	w.logger.Printf("audit: action=%s actor=%s role=%s resource=%s/%s ip=%s digest=%s",
		entry.Action, entry.Actor, entry.Role, entry.ResourceType, entry.ResourceID, entry.IP, entry.PayloadDigest)
	return nil
}

func normalize(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}

func nullJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
