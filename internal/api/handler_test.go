package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

var errDown = errors.New("connection refused")

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func healthOK(ctx context.Context) error   { return nil }
func healthDown(ctx context.Context) error { return errDown }

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	return resp
}

func TestHealth_AllChecksPass(t *testing.T) {
	handler := NewHandler(testLogger(t))
	handler.AddCheck("database", CheckerFunc(healthOK))
	handler.AddCheck("redis", CheckerFunc(healthOK))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	resp := decodeHealth(t, rec)
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if resp.Checks["database"] != "ok" || resp.Checks["redis"] != "ok" {
		t.Errorf("unexpected checks: %v", resp.Checks)
	}
}

func TestHealth_FailingDependencyDegrades(t *testing.T) {
	handler := NewHandler(testLogger(t))
	handler.AddCheck("database", CheckerFunc(healthOK))
	handler.AddCheck("redis", CheckerFunc(healthDown))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	resp := decodeHealth(t, rec)
	if resp.Status != "degraded" {
		t.Errorf("expected status degraded, got %q", resp.Status)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("healthy check should still report ok: %v", resp.Checks)
	}
	if resp.Checks["redis"] != "unavailable" {
		t.Errorf("failing check should report unavailable: %v", resp.Checks)
	}
}

func TestHealth_NoChecksRegistered(t *testing.T) {
	handler := NewHandler(testLogger(t))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if resp := decodeHealth(t, rec); resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
}

func TestHealth_ReRegisteringCheckReplacesIt(t *testing.T) {
	handler := NewHandler(testLogger(t))
	handler.AddCheck("database", CheckerFunc(healthDown))
	handler.AddCheck("database", CheckerFunc(healthOK))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 after replacing the check, got %d", rec.Code)
	}
}
