package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dr-coordinator/internal/audit"
	coordination "dr-coordinator/internal/coordination/domain"
	dispatch "dr-coordinator/internal/dispatch/domain"
)

type fakeService struct {
	mu       sync.Mutex
	active   bool
	current  *coordination.Run
	stored   map[string]coordination.Run
	startErr error
	started  []time.Duration
}

func (s *fakeService) Start(_ context.Context, duration time.Duration, powerDelta float64) (coordination.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return coordination.Run{}, s.startErr
	}
	if s.active {
		return coordination.Run{}, coordination.ErrEventActive
	}
	s.active = true
	s.started = append(s.started, duration)
	run := coordination.Run{ID: "evt-1", Duration: duration, PowerDelta: powerDelta, Status: coordination.StatusLoading, BaselinePower: 10, Target: 10 + powerDelta}
	s.current = &run
	return run, nil
}

func (s *fakeService) Cancel(context.Context) (coordination.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return coordination.Run{}, coordination.ErrNoActiveEvent
	}
	s.active = false
	return *s.current, nil
}

func (s *fakeService) Current() (coordination.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return coordination.Run{}, false
	}
	return *s.current, true
}

func (s *fakeService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *fakeService) Get(_ context.Context, id string) (*coordination.Run, error) {
	if run, ok := s.Current(); ok && run.ID == id {
		return &run, nil
	}
	run, ok := s.stored[id]
	if !ok {
		return nil, coordination.ErrEventNotFound
	}
	return &run, nil
}

type fakeRecords []dispatch.Record

func (f fakeRecords) ListByEvent(context.Context, string) ([]dispatch.Record, error) {
	return f, nil
}

type memoryAudit struct {
	entries []audit.Entry
}

func (m *memoryAudit) Log(_ context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func newTestHandler(t *testing.T, svc *fakeService, auditLog audit.Logger) *Handler {
	t.Helper()
	h, err := NewHandler(svc, fakeRecords{{EventID: "old", DeviceID: "A", Delivered: true}}, auditLog, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHandler_StartAndConflict(t *testing.T) {
	svc := &fakeService{}
	auditLog := &memoryAudit{}
	h := newTestHandler(t, svc, auditLog)

	resp := do(h, http.MethodPost, "/api/v1/events", `{"duration_seconds":3600,"power_delta":4}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var body RunResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "evt-1" || !body.Active || body.TargetPower != 14 || body.DurationSeconds != 3600 {
		t.Fatalf("unexpected response: %+v", body)
	}
	if len(svc.started) != 1 || svc.started[0] != time.Hour {
		t.Fatalf("expected one hour event, got %v", svc.started)
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].Action != audit.ActionEventStart || auditLog.entries[0].ResourceID != "evt-1" {
		t.Fatalf("expected start audit entry, got %+v", auditLog.entries)
	}

	resp = do(h, http.MethodPost, "/api/v1/events", `{"duration_seconds":60,"power_delta":1}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestHandler_StartValidation(t *testing.T) {
	h := newTestHandler(t, &fakeService{startErr: coordination.ErrInvalidEvent}, nil)
	if resp := do(h, http.MethodPost, "/api/v1/events", `{`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", resp.Code)
	}
	if resp := do(h, http.MethodPost, "/api/v1/events", `{"duration_seconds":0}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid event, got %d", resp.Code)
	}
	h = newTestHandler(t, &fakeService{startErr: coordination.ErrMeasurementsUnavailable}, nil)
	if resp := do(h, http.MethodPost, "/api/v1/events", `{"duration_seconds":60}`); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for missing telemetry, got %d", resp.Code)
	}
	if resp := do(h, http.MethodGet, "/api/v1/events", ""); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestHandler_CancelAndCurrent(t *testing.T) {
	svc := &fakeService{}
	auditLog := &memoryAudit{}
	h := newTestHandler(t, svc, auditLog)

	if resp := do(h, http.MethodGet, "/api/v1/events/current", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any event, got %d", resp.Code)
	}
	if resp := do(h, http.MethodPost, "/api/v1/events/cancel", ""); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 without active event, got %d", resp.Code)
	}
	do(h, http.MethodPost, "/api/v1/events", `{"duration_seconds":60,"power_delta":2}`)
	if resp := do(h, http.MethodPost, "/api/v1/events/cancel", ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	resp := do(h, http.MethodGet, "/api/v1/events/current", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body RunResponse
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Active || body.ID != "evt-1" {
		t.Fatalf("expected inactive current event, got %+v", body)
	}
	if len(auditLog.entries) != 2 || auditLog.entries[1].Action != audit.ActionEventCancel {
		t.Fatalf("expected cancel audit entry, got %+v", auditLog.entries)
	}
}

func TestHandler_GetAndReports(t *testing.T) {
	svc := &fakeService{stored: map[string]coordination.Run{
		"old": {
			ID:       "old",
			Status:   coordination.StatusFinished,
			Outcome:  coordination.OutcomeCompleted,
			Progress: []coordination.ProgressSample{{EventTime: time.Minute, ObservedPower: 12, Level: 1}},
		},
	}}
	h := newTestHandler(t, svc, nil)

	resp := do(h, http.MethodGet, "/api/v1/events/old", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body RunResponse
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Outcome != "completed" || len(body.Progress) != 1 || body.Progress[0].EventTimeSeconds != 60 {
		t.Fatalf("unexpected run: %+v", body)
	}
	if resp := do(h, http.MethodGet, "/api/v1/events/missing", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	resp = do(h, http.MethodGet, "/api/v1/events/old/report.pdf", "")
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf, got %d %s", resp.Code, resp.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected pdf body")
	}
	resp = do(h, http.MethodGet, "/api/v1/events/old/report.xlsx", "")
	if resp.Code != http.StatusOK || resp.Body.Len() == 0 {
		t.Fatalf("expected xlsx, got %d", resp.Code)
	}
	if resp := do(h, http.MethodGet, "/api/v1/events/old/report.csv", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown report, got %d", resp.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	if got := clientIP(req); got != "10.0.0.9" {
		t.Fatalf("expected peer host, got %q", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := clientIP(req); got != "10.0.0.2" {
		t.Fatalf("expected real ip, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
	if got := clientIP(req); got != "192.168.1.1" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestHandler_AuditRecordsForwardedClient(t *testing.T) {
	auditLog := &memoryAudit{}
	h := newTestHandler(t, &fakeService{}, auditLog)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"duration_seconds":600,"power_delta":-2}`))
	req.Header.Set("X-Forwarded-For", "172.16.0.4")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].IP != "172.16.0.4" {
		t.Fatalf("expected audit entry from 172.16.0.4, got %+v", auditLog.entries)
	}
}
