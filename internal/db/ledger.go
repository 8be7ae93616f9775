package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NotificationExists reports whether a ledger row already carries this
// dedupe key. Used as a cheap pre-check; the UNIQUE constraint behind
// AppendNotification is what actually guarantees at-most-one.
func (r *Repository) NotificationExists(ctx context.Context, dedupeKey string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM notification_log WHERE dedupe_key = $1)`

	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, dedupeKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("query notification ledger: %w", err)
	}

	return exists, nil
}

// AppendNotification adds one row to the append-only delivery ledger.
// A unique-constraint violation comes back as ErrDuplicateEntry so callers
// can treat "someone already recorded this delivery" as success.
func (r *Repository) AppendNotification(ctx context.Context, entry *NotificationEntry) error {
	query := `
		INSERT INTO notification_log (user_id, task_id, event_type, dedupe_key, delivery_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, recorded_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		entry.UserID,
		entry.TaskID,
		entry.EventType,
		entry.DedupeKey,
		entry.DeliveryStatus,
	).Scan(&entry.ID, &entry.RecordedAt)

	if isUniqueViolation(err) {
		return fmt.Errorf("append notification %s: %w", entry.DedupeKey, ErrDuplicateEntry)
	}

	if err != nil {
		r.logger.Error("failed to append notification",
			zap.Error(err),
			zap.String("dedupe_key", entry.DedupeKey),
		)
		return fmt.Errorf("append notification: %w", err)
	}

	return nil
}
