package db

import (
	"time"
)

// User is a whitelisted Telegram account with its board-wide preferences
type User struct {
	ID            int64     `json:"id"`
	TelegramID    int64     `json:"telegram_id"`
	Timezone      string    `json:"timezone"`
	DigestEnabled bool      `json:"digest_enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

// Board is the single kanban board owned by a user
type Board struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Column is one lane of a board. At most one column per board is the done
// column; moving a task there completes it.
type Column struct {
	ID       int64  `json:"id"`
	BoardID  int64  `json:"board_id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	IsDone   bool   `json:"is_done"`
}

// Task is a single card on a board
type Task struct {
	ID          int64      `json:"id"`
	BoardID     int64      `json:"board_id"`
	ColumnID    *int64     `json:"column_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	ReminderAt  *time.Time `json:"reminder_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Filled by list/get queries, not stored on the tasks table itself
	ColumnName string `json:"column_name,omitempty"`
	Tags       []Tag  `json:"tags,omitempty"`
}

// Tag is a board-scoped label
type Tag struct {
	ID      int64  `json:"id"`
	BoardID int64  `json:"board_id"`
	Name    string `json:"name"`
}

// TagStat is a tag name with its task usage count
type TagStat struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ReminderCandidate pairs a due task with the user who owns its board
type ReminderCandidate struct {
	Task Task
	User User
}

// NotificationEntry is one append-only row of the delivery ledger. Rows are
// never updated or deleted; the UNIQUE dedupe_key constraint is what makes
// delivery idempotent.
type NotificationEntry struct {
	ID             int64     `json:"id"`
	UserID         *int64    `json:"user_id,omitempty"`
	TaskID         *int64    `json:"task_id,omitempty"`
	EventType      string    `json:"event_type"`
	DedupeKey      string    `json:"dedupe_key"`
	DeliveryStatus string    `json:"delivery_status"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// ExportEntry is one audit row for a generated export file
type ExportEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Format    string    `json:"format"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Task status constants
const (
	TaskStatusActive = "active"
	TaskStatusDone   = "done"
)

// Notification event types
const (
	EventReminder = "reminder"
	EventDigest   = "digest"
)

// Ledger delivery statuses
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// Export formats
const (
	ExportFormatMarkdown = "md"
	ExportFormatCSV      = "csv"
)
