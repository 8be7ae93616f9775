package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskdeck/internal/db"
	"github.com/lalithlochan/taskdeck/internal/metrics"
	"github.com/lalithlochan/taskdeck/internal/timeutil"
)

// digestListLimit caps how many tasks of each bucket a digest message lists
const digestListLimit = 5

// TaskSource is the read side the scans need. *db.Repository satisfies it.
type TaskSource interface {
	DueReminders(ctx context.Context, now time.Time) ([]db.ReminderCandidate, error)
	DigestUsers(ctx context.Context) ([]db.User, error)
	BoardForUser(ctx context.Context, userID int64) (*db.Board, error)
	TasksDueToday(ctx context.Context, boardID int64, loc *time.Location, now time.Time) ([]db.Task, error)
	OverdueTasks(ctx context.Context, boardID int64, loc *time.Location, now time.Time) ([]db.Task, error)
}

// Ledger is the append-only delivery record. *db.Repository satisfies it.
type Ledger interface {
	NotificationExists(ctx context.Context, dedupeKey string) (bool, error)
	AppendNotification(ctx context.Context, entry *db.NotificationEntry) error
}

// Notifier delivers one message to one Telegram chat
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Service runs the periodic reminder and digest scans and funnels every
// delivery through the dedupe ledger
type Service struct {
	source   TaskSource
	ledger   Ledger
	notifier Notifier
	logger   *zap.Logger

	digestHour   int
	digestMinute int
}

// NewService creates the scanner. The digest time is fixed for the process
// lifetime; out-of-range values are refused here rather than silently
// clamped to a time nobody asked for.
func NewService(
	source TaskSource,
	ledger Ledger,
	notifier Notifier,
	digestHour, digestMinute int,
	logger *zap.Logger,
) (*Service, error) {
	if digestHour < 0 || digestHour > 23 || digestMinute < 0 || digestMinute > 59 {
		return nil, fmt.Errorf("digest time %02d:%02d out of range", digestHour, digestMinute)
	}

	return &Service{
		source:       source,
		ledger:       ledger,
		notifier:     notifier,
		logger:       logger,
		digestHour:   digestHour,
		digestMinute: digestMinute,
	}, nil
}

// RunReminderScan finds every open task whose reminder instant has arrived
// and pushes each through the delivery gate. A candidate that fails does not
// stop the ones after it; only the initial query aborts the scan.
func (s *Service) RunReminderScan(ctx context.Context, now time.Time) error {
	candidates, err := s.source.DueReminders(ctx, now)
	if err != nil {
		return fmt.Errorf("query due reminders: %w", err)
	}

	for _, candidate := range candidates {
		task := candidate.Task
		user := candidate.User
		if task.ReminderAt == nil {
			continue
		}

		loc, err := time.LoadLocation(user.Timezone)
		if err != nil {
			// stored timezone no longer resolves; skipping beats guessing UTC
			s.logger.Error("cannot resolve user timezone",
				zap.Error(err),
				zap.Int64("user_id", user.ID),
				zap.String("timezone", user.Timezone),
			)
			metrics.RecordTimezoneError("reminder")
			continue
		}

		s.deliver(ctx, delivery{
			eventType: db.EventReminder,
			dedupeKey: reminderKey(task.ID, *task.ReminderAt),
			userID:    &user.ID,
			taskID:    &task.ID,
			chatID:    user.TelegramID,
			text:      reminderMessage(task, loc),
		}, now)
	}

	return nil
}

// RunDigestScan sends the daily summary to every digest-enabled user whose
// local clock reads exactly the configured digest time at this tick. One
// digest per user per local calendar day, enforced by the ledger key.
func (s *Service) RunDigestScan(ctx context.Context, now time.Time) error {
	users, err := s.source.DigestUsers(ctx)
	if err != nil {
		return fmt.Errorf("query digest users: %w", err)
	}

	for _, user := range users {
		loc, err := time.LoadLocation(user.Timezone)
		if err != nil {
			s.logger.Error("cannot resolve user timezone",
				zap.Error(err),
				zap.Int64("user_id", user.ID),
				zap.String("timezone", user.Timezone),
			)
			metrics.RecordTimezoneError("digest")
			continue
		}

		local := now.In(loc)
		if local.Hour() != s.digestHour || local.Minute() != s.digestMinute {
			continue
		}

		// Check the ledger before touching the board: on the matching
		// minute this is almost always a repeat tick.
		key := digestKey(user.ID, timeutil.FormatLocalDate(now, loc))
		exists, err := s.ledger.NotificationExists(ctx, key)
		if err != nil {
			s.logger.Error("ledger check failed",
				zap.Error(err),
				zap.String("dedupe_key", key),
			)
			continue
		}
		if exists {
			metrics.RecordDedupeHit(db.EventDigest)
			continue
		}

		board, err := s.source.BoardForUser(ctx, user.ID)
		if err != nil {
			s.logger.Error("board lookup failed",
				zap.Error(err),
				zap.Int64("user_id", user.ID),
			)
			continue
		}
		if board == nil {
			// never used the bot; nothing to summarize, no ledger row
			continue
		}

		today, err := s.source.TasksDueToday(ctx, board.ID, loc, now)
		if err != nil {
			s.logger.Error("today query failed", zap.Error(err), zap.Int64("board_id", board.ID))
			continue
		}
		overdue, err := s.source.OverdueTasks(ctx, board.ID, loc, now)
		if err != nil {
			s.logger.Error("overdue query failed", zap.Error(err), zap.Int64("board_id", board.ID))
			continue
		}

		s.deliver(ctx, delivery{
			eventType: db.EventDigest,
			dedupeKey: key,
			userID:    &user.ID,
			chatID:    user.TelegramID,
			text:      digestMessage(overdue, today),
		}, now)
	}

	return nil
}

// delivery is one message on its way through the gate
type delivery struct {
	eventType string
	dedupeKey string
	userID    *int64
	taskID    *int64
	chatID    int64
	text      string
}

// deliver is the gate every notification passes: ledger check, send, ledger
// append. The UNIQUE constraint on the dedupe key is the real idempotence
// boundary; a duplicate append means another pass already recorded this
// delivery and counts as success. Failed sends are recorded under a
// timestamped key that can never collide with the canonical one, so the next
// tick retries.
func (s *Service) deliver(ctx context.Context, d delivery, now time.Time) {
	exists, err := s.ledger.NotificationExists(ctx, d.dedupeKey)
	if err != nil {
		// without a ledger answer, sending could double-deliver; skip
		// this candidate and let the next tick try again
		s.logger.Error("ledger check failed",
			zap.Error(err),
			zap.String("dedupe_key", d.dedupeKey),
		)
		return
	}
	if exists {
		metrics.RecordDedupeHit(d.eventType)
		return
	}

	start := time.Now()
	sendErr := s.notifier.Send(ctx, d.chatID, d.text)
	metrics.RecordSendDuration(time.Since(start))

	if sendErr != nil {
		s.logger.Warn("notification send failed",
			zap.Error(sendErr),
			zap.String("dedupe_key", d.dedupeKey),
			zap.Int64("chat_id", d.chatID),
		)
		metrics.RecordNotification(d.eventType, db.DeliveryFailed)

		entry := &db.NotificationEntry{
			UserID:         d.userID,
			TaskID:         d.taskID,
			EventType:      d.eventType,
			DedupeKey:      failedKey(d.dedupeKey, now),
			DeliveryStatus: db.DeliveryFailed,
		}
		if err := s.ledger.AppendNotification(ctx, entry); err != nil {
			s.logger.Error("failed to record failed delivery",
				zap.Error(err),
				zap.String("dedupe_key", entry.DedupeKey),
			)
		}
		return
	}

	entry := &db.NotificationEntry{
		UserID:         d.userID,
		TaskID:         d.taskID,
		EventType:      d.eventType,
		DedupeKey:      d.dedupeKey,
		DeliveryStatus: db.DeliverySent,
	}
	if err := s.ledger.AppendNotification(ctx, entry); err != nil {
		if errors.Is(err, db.ErrDuplicateEntry) {
			metrics.RecordDedupeHit(d.eventType)
			s.logger.Info("delivery already recorded",
				zap.String("dedupe_key", d.dedupeKey),
			)
			return
		}
		// the message went out but the ledger row did not; the next tick
		// will resend, which at-least-once delivery permits
		s.logger.Error("failed to record delivery",
			zap.Error(err),
			zap.String("dedupe_key", d.dedupeKey),
		)
		return
	}

	metrics.RecordNotification(d.eventType, db.DeliverySent)
	s.logger.Info("notification sent",
		zap.String("type", d.eventType),
		zap.String("dedupe_key", d.dedupeKey),
		zap.Int64("chat_id", d.chatID),
	)
}

// reminderKey identifies one (task, reminder instant) pair. Postponing a
// task moves its reminder instant and therefore yields a fresh key.
func reminderKey(taskID int64, reminderAt time.Time) string {
	return fmt.Sprintf("reminder:%d:%s", taskID, reminderAt.UTC().Format(time.RFC3339))
}

// digestKey identifies one (user, local calendar date) pair
func digestKey(userID int64, localDate string) string {
	return fmt.Sprintf("digest:%d:%s", userID, localDate)
}

// failedKey derives a non-colliding audit key for a failed send. It never
// matches a canonical key, so failures block nothing.
func failedKey(dedupeKey string, now time.Time) string {
	return fmt.Sprintf("%s:failed:%d", dedupeKey, now.Unix())
}

func reminderMessage(task db.Task, loc *time.Location) string {
	due := "—"
	if task.DueAt != nil {
		due = timeutil.FormatInZone(*task.DueAt, loc)
	}
	return fmt.Sprintf("⏰ Reminder\nTask #%d: %s\nDue: %s", task.ID, task.Title, due)
}

func digestMessage(overdue, today []db.Task) string {
	lines := []string{"🗓 Daily digest", ""}

	if len(overdue) > 0 {
		lines = append(lines, fmt.Sprintf("Overdue: %d", len(overdue)))
	} else {
		lines = append(lines, "No overdue tasks")
	}
	if len(today) > 0 {
		lines = append(lines, fmt.Sprintf("Due today: %d", len(today)))
	} else {
		lines = append(lines, "Nothing due today")
	}

	lines = append(lines, "")
	for i, task := range overdue {
		if i == digestListLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("• [OVERDUE] #%d %s", task.ID, task.Title))
	}
	for i, task := range today {
		if i == digestListLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("• [TODAY] #%d %s", task.ID, task.Title))
	}

	return strings.Join(lines, "\n")
}
