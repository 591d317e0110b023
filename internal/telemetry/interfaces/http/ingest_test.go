package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dr-coordinator/internal/telemetry/domain"
)

type memoryRepo struct {
	stored []telemetry.Measurement
	err    error
}

func (m *memoryRepo) InsertMeasurements(_ context.Context, measurements []telemetry.Measurement) error {
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, measurements...)
	return nil
}

func TestIngestHandler_StoresPoints(t *testing.T) {
	repo := &memoryRepo{}
	handler, err := NewIngestHandler(repo, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	body := `{"deviceId":"house-1","points":[{"ts":1704866400000,"values":{"t_r":20.5,"blr_mod_lvl":40}},{"ts":1704866460,"values":{"t_r":20.6}}]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(repo.stored) != 3 {
		t.Fatalf("expected 3 measurements, got %d", len(repo.stored))
	}
	for _, m := range repo.stored {
		if m.DeviceID != "house-1" || m.TS.IsZero() {
			t.Fatalf("unexpected measurement %+v", m)
		}
	}
}

func TestIngestHandler_RejectsMissingDevice(t *testing.T) {
	handler, _ := NewIngestHandler(&memoryRepo{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader(`{"ts":1704866400,"values":{"t_r":20}}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestIngestHandler_InsertError(t *testing.T) {
	handler, _ := NewIngestHandler(&memoryRepo{err: errors.New("boom")}, nil)
	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader(`{"deviceId":"d","ts":1704866400,"values":{"t_r":20}}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
