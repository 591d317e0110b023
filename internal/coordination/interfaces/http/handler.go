package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"dr-coordinator/internal/audit"
	"dr-coordinator/internal/auth"
	coordination "dr-coordinator/internal/coordination/domain"
	coordinationinterfaces "dr-coordinator/internal/coordination/interfaces"
	dispatch "dr-coordinator/internal/dispatch/domain"
	"dr-coordinator/internal/observability/metrics"
)

const basePath = "/api/v1/events"

// EventService is the trigger surface of the coordinator.
type EventService interface {
	Start(ctx context.Context, duration time.Duration, powerDelta float64) (coordination.Run, error)
	Cancel(ctx context.Context) (coordination.Run, error)
	Current() (coordination.Run, bool)
	Active() bool
	Get(ctx context.Context, id string) (*coordination.Run, error)
}

// RecordLister reads the dispatch log of an event.
type RecordLister interface {
	ListByEvent(ctx context.Context, eventID string) ([]dispatch.Record, error)
}

// StartRequest is the body of POST /api/v1/events.
type StartRequest struct {
	DurationSeconds float64 `json:"duration_seconds"`
	PowerDelta      float64 `json:"power_delta"`
}

// RunResponse is the JSON view of an event run.
type RunResponse struct {
	ID              string            `json:"id"`
	Active          bool              `json:"active"`
	Status          string            `json:"status"`
	Outcome         string            `json:"outcome,omitempty"`
	Error           string            `json:"error,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
	PowerDelta      float64           `json:"power_delta"`
	BaselinePower   float64           `json:"baseline_power"`
	TargetPower     float64           `json:"target_power"`
	ResponseLevel   int               `json:"response_level"`
	MinLevel        int               `json:"min_level"`
	MaxLevel        int               `json:"max_level"`
	StartedAt       string            `json:"started_at,omitempty"`
	FinishedAt      string            `json:"finished_at,omitempty"`
	Progress        []ProgressPayload `json:"progress"`
}

// ProgressPayload is one progress sample.
type ProgressPayload struct {
	EventTimeSeconds float64 `json:"event_time_seconds"`
	ObservedPower    float64 `json:"observed_power"`
	ResponseLevel    int     `json:"response_level"`
}

// Handler serves the DR event endpoints.
type Handler struct {
	service     EventService
	records     RecordLister
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewHandler constructs a handler. records and auditLogger are optional.
func NewHandler(service EventService, records RecordLister, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("events handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, records: records, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP routes /api/v1/events and its sub paths.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, basePath), "/")
	switch {
	case rest == "":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleStart(w, r)
	case rest == "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCancel(w, r)
	case rest == "current":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCurrent(w, r)
	default:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1:
			h.handleGet(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "report.xlsx":
			h.handleReport(w, r, parts[0], "xlsx")
		case len(parts) == 2 && parts[1] == "report.pdf":
			h.handleReport(w, r, parts[0], "pdf")
		default:
			http.NotFound(w, r)
		}
	}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req StartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	duration := time.Duration(req.DurationSeconds * float64(time.Second))
	run, err := h.service.Start(r.Context(), duration, req.PowerDelta)
	if err != nil {
		switch {
		case errors.Is(err, coordination.ErrEventActive):
			http.Error(w, "event already active", http.StatusConflict)
		case errors.Is(err, coordination.ErrInvalidEvent):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, coordination.ErrMeasurementsUnavailable):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, coordination.ErrTrajectoryLength):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.logger.Printf("events handler: ERROR start event: err=%v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.logAudit(r, audit.ActionEventStart, run.ID, body)
	writeJSON(w, http.StatusAccepted, toResponse(run, h.service.Active()))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Cancel(r.Context())
	if err != nil {
		if errors.Is(err, coordination.ErrNoActiveEvent) {
			http.Error(w, "no active event", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logAudit(r, audit.ActionEventCancel, run.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	run, ok := h.service.Current()
	if !ok {
		http.Error(w, "no event", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(run, h.service.Active()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := h.lookup(w, r, id)
	if !ok {
		return
	}
	current, live := h.service.Current()
	writeJSON(w, http.StatusOK, toResponse(*run, live && current.ID == id && h.service.Active()))
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, id, format string) {
	run, ok := h.lookup(w, r, id)
	if !ok {
		return
	}
	var records []dispatch.Record
	if h.records != nil {
		list, err := h.records.ListByEvent(r.Context(), id)
		if err != nil {
			h.logger.Printf("events handler: WARN list dispatch records: event=%s err=%v", id, err)
		}
		records = list
	}

	started := time.Now()
	var (
		data        []byte
		err         error
		contentType string
		action      string
	)
	switch format {
	case "pdf":
		data, err = coordinationinterfaces.BuildEventReportPDF(run, records)
		contentType = "application/pdf"
		action = audit.ActionReportPDF
	default:
		data, err = coordinationinterfaces.BuildEventReportXLSX(run, records)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		action = audit.ActionReportXLSX
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportExport(format, result, time.Since(started))
	if err != nil {
		h.logger.Printf("events handler: ERROR build report: event=%s format=%s err=%v", id, format, err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	h.logAudit(r, action, id, nil)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\"event_"+id+"."+format+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, id string) (*coordination.Run, bool) {
	run, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, coordination.ErrEventNotFound) {
			http.Error(w, "event not found", http.StatusNotFound)
			return nil, false
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func (h *Handler) logAudit(r *http.Request, action, eventID string, payload []byte) {
	if h.auditLogger == nil {
		return
	}
	var meta json.RawMessage
	if len(payload) > 0 && json.Valid(payload) {
		meta = payload
	}
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "dr_event",
		ResourceID:   eventID,
		Metadata:     meta,
		IP:           clientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Printf("events handler: WARN audit: action=%s event=%s err=%v", action, eventID, err)
	}
}

// clientIP prefers the first proxy hop, then X-Real-IP, then the peer address.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func toResponse(run coordination.Run, active bool) RunResponse {
	resp := RunResponse{
		ID:              run.ID,
		Active:          active,
		Status:          string(run.Status),
		Outcome:         string(run.Outcome),
		Error:           run.Error,
		DurationSeconds: run.Duration.Seconds(),
		PowerDelta:      run.PowerDelta,
		BaselinePower:   run.BaselinePower,
		TargetPower:     run.Target,
		ResponseLevel:   run.Level,
		MinLevel:        run.MinLevel,
		MaxLevel:        run.MaxLevel,
		Progress:        make([]ProgressPayload, 0, len(run.Progress)),
	}
	if !run.StartedAt.IsZero() {
		resp.StartedAt = run.StartedAt.UTC().Format(time.RFC3339)
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	for _, sample := range run.Progress {
		resp.Progress = append(resp.Progress, ProgressPayload{
			EventTimeSeconds: sample.EventTime.Seconds(),
			ObservedPower:    sample.ObservedPower,
			ResponseLevel:    sample.Level,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
