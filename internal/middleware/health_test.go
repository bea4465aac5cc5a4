package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticChecker struct{ err error }

func (c staticChecker) Check(context.Context) error { return c.err }

func checkHealth(t *testing.T, checkers map[string]HealthChecker) (int, HealthStatus) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HealthHandler(checkers)(rec, req)

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return rec.Code, status
}

func TestHealthHandlerHealthy(t *testing.T) {
	code, status := checkHealth(t, map[string]HealthChecker{"database": staticChecker{}})
	if code != http.StatusOK {
		t.Fatalf("status %d, want 200", code)
	}
	if status.Status != "healthy" || status.Checks["database"].Status != "healthy" {
		t.Fatalf("health = %+v, want healthy database check", status)
	}
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	code, status := checkHealth(t, map[string]HealthChecker{
		"database": staticChecker{err: errors.New("connection refused")},
	})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", code)
	}
	if status.Status != "unhealthy" {
		t.Fatalf("overall status = %q, want unhealthy", status.Status)
	}
	if status.Checks["database"].Message != "connection refused" {
		t.Fatalf("check message = %q, want the checker error", status.Checks["database"].Message)
	}
}
