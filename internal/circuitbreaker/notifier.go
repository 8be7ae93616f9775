package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notifier mirrors the scheduler's notifier interface to avoid a circular
// import.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// ProtectedNotifier wraps a Notifier with a CircuitBreaker. While the Bot
// API is down, scheduler sends fail fast instead of queueing behind a dead
// connection; the ledger records each rejection under a retry-safe key and
// the next tick tries again.
type ProtectedNotifier struct {
	notifier Notifier
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

// NewProtectedNotifier wraps a notifier with circuit breaker protection.
func NewProtectedNotifier(notifier Notifier, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedNotifier {
	return &ProtectedNotifier{
		notifier: notifier,
		breaker:  breaker,
		logger:   logger,
	}
}

// Send attempts one delivery through the circuit breaker. If the circuit
// is open it returns ErrCircuitOpen immediately; otherwise the underlying
// send's outcome is recorded and returned.
func (p *ProtectedNotifier) Send(ctx context.Context, chatID int64, text string) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.Int64("chat_id", chatID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.notifier.Send(ctx, chatID, text)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}
