package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_AllowsRequestsWhenClosed(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: 1 * time.Second}, testLogger())
	for i := 0; i < 3; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 5 * time.Second}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("should allow probe after timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ClosesOnSuccessfulProbe(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ReopensOnFailedProbe(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatal("success should have reset failure count")
	}
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond, HalfOpenMaxRequests: 1}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("first half-open request should be allowed")
	}
	if cb.Allow() {
		t.Fatal("second half-open request should be rejected")
	}
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig("svc")
	if cfg.MaxFailures != 5 {
		t.Fatalf("max_failures = %d", cfg.MaxFailures)
	}
	if cfg.RecoveryTimeout != 30*time.Second {
		t.Fatalf("recovery_timeout = %v", cfg.RecoveryTimeout)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

// --- ProtectedNotifier Tests ---

type mockNotifier struct {
	sendErr   error
	sendCalls int
}

func (m *mockNotifier) Send(ctx context.Context, chatID int64, text string) error {
	m.sendCalls++
	return m.sendErr
}

func TestProtectedNotifier_PassesThrough(t *testing.T) {
	mock := &mockNotifier{}
	cb := New(DefaultConfig("telegram"), testLogger())
	p := NewProtectedNotifier(mock, cb, testLogger())

	if err := p.Send(context.Background(), 100, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mock.sendCalls != 1 {
		t.Fatalf("send_calls = %d, want 1", mock.sendCalls)
	}
}

func TestProtectedNotifier_PropagatesSendError(t *testing.T) {
	sendErr := errors.New("telegram: bad gateway")
	mock := &mockNotifier{sendErr: sendErr}
	cb := New(DefaultConfig("telegram"), testLogger())
	p := NewProtectedNotifier(mock, cb, testLogger())

	if err := p.Send(context.Background(), 100, "hello"); !errors.Is(err, sendErr) {
		t.Fatalf("err = %v, want %v", err, sendErr)
	}
}

func TestProtectedNotifier_FailsFastWhenOpen(t *testing.T) {
	mock := &mockNotifier{sendErr: errors.New("telegram: bad gateway")}
	cb := New(Config{Name: "telegram", MaxFailures: 2, RecoveryTimeout: 5 * time.Second}, testLogger())
	p := NewProtectedNotifier(mock, cb, testLogger())

	p.Send(context.Background(), 100, "a")
	p.Send(context.Background(), 100, "b")
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}

	err := p.Send(context.Background(), 100, "c")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if mock.sendCalls != 2 {
		t.Fatalf("send_calls = %d, want 2 (third send must not reach the API)", mock.sendCalls)
	}
}

func TestProtectedNotifier_RecoversAfterProbe(t *testing.T) {
	mock := &mockNotifier{sendErr: errors.New("telegram: bad gateway")}
	cb := New(Config{Name: "telegram", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, testLogger())
	p := NewProtectedNotifier(mock, cb, testLogger())

	p.Send(context.Background(), 100, "a")
	p.Send(context.Background(), 100, "b")
	time.Sleep(60 * time.Millisecond)

	mock.sendErr = nil
	if err := p.Send(context.Background(), 100, "probe"); err != nil {
		t.Fatalf("probe send: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed after successful probe, got %s", cb.GetState())
	}
}
