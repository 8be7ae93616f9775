package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogger_PassesRequestThrough(t *testing.T) {
	var handlerCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := RequestLogger(testLogger(t))(next)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if !handlerCalled {
		t.Fatal("wrapped handler was not called")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status not propagated, got %d", rec.Code)
	}
}

func TestRequestLogger_DefaultsTo200(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	wrapped := RequestLogger(testLogger(t))(next)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected implicit 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body not propagated: %q", rec.Body.String())
	}
}
