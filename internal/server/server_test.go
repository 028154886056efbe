package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/aggregate"
	"payment-failure-alerts/internal/analytics"
	"payment-failure-alerts/internal/config"
	"payment-failure-alerts/internal/service"
	"payment-failure-alerts/internal/storage"
)

type stubStore struct {
	nextID int64
	events []storage.FailureEvent
	alerts []storage.AlertRecord
}

func (s *stubStore) InsertFailure(ctx context.Context, event storage.FailureEvent) (int64, error) {
	s.nextID++
	event.ID = s.nextID
	s.events = append(s.events, event)
	return s.nextID, nil
}

func (s *stubStore) ListFailuresBetween(ctx context.Context, from, to time.Time, filter storage.FailureFilter) ([]storage.FailureEvent, error) {
	var out []storage.FailureEvent
	for _, event := range s.events {
		if event.OccurredAt.Before(from) || !event.OccurredAt.Before(to) {
			continue
		}
		if filter.Gateway != "" && event.Gateway != filter.Gateway {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (s *stubStore) ListRecentFailures(ctx context.Context, gateway string, limit int) ([]storage.FailureEvent, error) {
	return nil, nil
}

func (s *stubStore) ListRecentHighValue(ctx context.Context, minAmount decimal.Decimal, limit int) ([]storage.FailureEvent, error) {
	return nil, nil
}

func (s *stubStore) CountFailures(ctx context.Context) (int64, error) {
	return int64(len(s.events)), nil
}

func (s *stubStore) DeleteFailuresBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (s *stubStore) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	s.alerts = append(s.alerts, alert)
	return alert, nil
}

func (s *stubStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return s.alerts, nil
}

func (s *stubStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

type stubCounter struct{}

func (stubCounter) CountAttempts(ctx context.Context, gateway string, from, to time.Time) (int, error) {
	return 0, nil
}

func (stubCounter) Record(ctx context.Context, sample storage.AttemptSample) error {
	return nil
}

func testServer() (*Server, *stubStore) {
	store := &stubStore{}
	counter := stubCounter{}
	logger := zerolog.Nop()

	agg := aggregate.New(store, counter, logger)
	engine := analytics.NewEngine(agg, store, counter, 3, logger)
	monitor := service.NewMonitor(store, store, counter, nil, agg, engine, logger)

	return New(monitor, config.ServerConfig{Addr: ":0"}, logger), store
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer()
	resp := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
}

func TestRecordFailureEndpoint(t *testing.T) {
	srv, store := testServer()

	body := `{"order_id":"o-1","gateway":"stripe","error_code":"card_declined","amount":"42.50","currency":"USD"}`
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/failures", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		EventID int64 `json:"event_id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.EventID != 1 {
		t.Fatalf("event_id = %d, want 1", payload.EventID)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(store.events))
	}
}

func TestRecordFailureEndpointRejectsInvalid(t *testing.T) {
	srv, _ := testServer()

	// Missing gateway fails binding.
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/failures", `{"order_id":"o-1","currency":"USD"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing gateway: status = %d, want 400", resp.Code)
	}

	// Bad currency fails domain validation.
	resp = doRequest(t, srv, http.MethodPost, "/api/v1/failures", `{"order_id":"o-1","gateway":"stripe","currency":"USDT"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad currency: status = %d, want 400", resp.Code)
	}
}

func TestRecordAttemptEndpoint(t *testing.T) {
	srv, _ := testServer()

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/attempts", `{"gateway":"stripe","outcome":"failed"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/v1/attempts", `{"gateway":"stripe","outcome":"refunded"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown outcome: status = %d, want 400", resp.Code)
	}
}

func TestAggregateEndpoint(t *testing.T) {
	srv, _ := testServer()

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/aggregate?from=bogus&to=2026-03-10T12:00:00Z", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad from: status = %d, want 400", resp.Code)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/aggregate?from=2026-03-10T12:00:00Z&to=2026-03-10T00:00:00Z", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: status = %d, want 400", resp.Code)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/aggregate?from=2026-03-10T00:00:00Z&to=2026-03-10T12:00:00Z&group_by=gateway", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", resp.Code, resp.Body.String())
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	srv, _ := testServer()

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/analytics?timeframe=90d", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown timeframe: status = %d, want 400", resp.Code)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/analytics?timeframe=24h", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", resp.Code, resp.Body.String())
	}
}

func TestAlertsEndpoint(t *testing.T) {
	srv, _ := testServer()

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/alerts?limit=abc", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d, want 400", resp.Code)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/alerts", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
}
