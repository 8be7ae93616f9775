// Package bot is the Telegram transport: the long-poll loop, whitelist
// auth, command and callback handlers, and the multi-step dialog flows.
package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskdeck/internal/db"
	"github.com/lalithlochan/taskdeck/internal/metrics"
	"github.com/lalithlochan/taskdeck/internal/redis"
)

// API is the slice of the Telegram client the bot needs. *tgbotapi.BotAPI
// satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store is the board-facing side of the repository. *db.Repository
// satisfies it.
type Store interface {
	Bootstrap(ctx context.Context, telegramID int64, defaultTimezone string) (*db.User, *db.Board, []db.Column, bool, error)
	UpdateUserTimezone(ctx context.Context, userID int64, timezone string) error
	SetDigestEnabled(ctx context.Context, userID int64, enabled bool) error

	Columns(ctx context.Context, boardID int64) ([]db.Column, error)
	CreateColumn(ctx context.Context, boardID int64, name string) (*db.Column, error)
	RenameColumn(ctx context.Context, boardID, columnID int64, newName string) (*db.Column, error)
	ReorderColumn(ctx context.Context, boardID, columnID int64, newPosition int) ([]db.Column, error)
	DeleteColumn(ctx context.Context, boardID, columnID int64) error
	ResolveColumn(ctx context.Context, boardID int64, token string) (*db.Column, error)

	CreateTask(ctx context.Context, params db.CreateTaskParams) (*db.Task, error)
	GetTask(ctx context.Context, boardID, taskID int64) (*db.Task, error)
	MoveTask(ctx context.Context, boardID, taskID int64, column *db.Column, now time.Time) (*db.Task, error)
	MarkTaskDone(ctx context.Context, boardID, taskID int64, now time.Time) (*db.Task, error)
	PostponeTask(ctx context.Context, boardID, taskID int64, hours int, now time.Time) (*db.Task, error)
	EditTaskTitle(ctx context.Context, boardID, taskID int64, newTitle string) (*db.Task, error)
	UpdateTaskDescription(ctx context.Context, boardID, taskID int64, description string) (*db.Task, error)
	UpdateTaskPriority(ctx context.Context, boardID, taskID int64, priority int) (*db.Task, error)
	DeleteTask(ctx context.Context, boardID, taskID int64) error
	SetTaskTags(ctx context.Context, boardID, taskID int64, tagNames []string) (*db.Task, error)
	ListBoardTasks(ctx context.Context, boardID int64) ([]db.Task, error)
	TasksDueToday(ctx context.Context, boardID int64, loc *time.Location, now time.Time) ([]db.Task, error)
	OverdueTasks(ctx context.Context, boardID int64, loc *time.Location, now time.Time) ([]db.Task, error)
	SearchTasks(ctx context.Context, boardID int64, text string) ([]db.Task, error)
	TagStats(ctx context.Context, boardID int64) ([]db.TagStat, error)

	LogExport(ctx context.Context, userID int64, format, fileName string) error
}

// Dialogs is the per-chat flow state store. *redis.DialogStore satisfies it.
type Dialogs interface {
	Get(ctx context.Context, chatID int64) (*redis.DialogState, error)
	Set(ctx context.Context, chatID int64, state *redis.DialogState) error
	Clear(ctx context.Context, chatID int64) error
}

// Limiter is the per-chat update budget. *redis.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, chatID int64) (bool, error)
}

// Dialog stages. Each names what the bot is waiting for from the chat.
const (
	stageNewTaskTitle     = "new_task_title"
	stageNewTaskDueChoice = "new_task_due_choice"
	stageNewTaskDueCustom = "new_task_due_custom"
	stageEditTags         = "edit_tags"
	stageEditDescription  = "edit_description"
	stageTimezoneCustom   = "timezone_custom"
)

// Config holds the bot's static settings.
type Config struct {
	AllowedIDs      []int64
	DefaultTimezone string
	PollTimeout     int
}

// Bot wires the Telegram update stream to the board operations.
type Bot struct {
	api     API
	store   Store
	dialogs Dialogs
	limiter Limiter
	clk     clock.Clock
	logger  *zap.Logger

	allowed     map[int64]struct{}
	defaultTZ   string
	pollTimeout int
}

// New creates the bot. The allowed-ID whitelist is fixed for the process
// lifetime.
func New(api API, store Store, dialogs Dialogs, limiter Limiter, clk clock.Clock, cfg Config, logger *zap.Logger) *Bot {
	allowed := make(map[int64]struct{}, len(cfg.AllowedIDs))
	for _, id := range cfg.AllowedIDs {
		allowed[id] = struct{}{}
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30
	}

	return &Bot{
		api:         api,
		store:       store,
		dialogs:     dialogs,
		limiter:     limiter,
		clk:         clk,
		logger:      logger,
		allowed:     allowed,
		defaultTZ:   cfg.DefaultTimezone,
		pollTimeout: pollTimeout,
	}
}

// Run polls for updates until ctx is cancelled or the update channel
// closes. Updates are handled sequentially; the scheduler's sends do not
// pass through here.
func (b *Bot) Run(ctx context.Context) {
	b.setupCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("bot polling started", zap.Int("allowed_ids", len(b.allowed)))

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// Stop ends the long poll; Run returns once the channel drains.
func (b *Bot) Stop() {
	b.api.StopReceivingUpdates()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		metrics.RecordBotUpdate("message")
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		metrics.RecordBotUpdate("callback")
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) userAllowed(userID int64) bool {
	_, ok := b.allowed[userID]
	return ok
}

// setupCommands publishes the command menu. A failure only degrades the
// client-side menu, so it is logged and ignored.
func (b *Bot) setupCommands() {
	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Start and main menu"},
		tgbotapi.BotCommand{Command: "help", Description: "Command reference"},
		tgbotapi.BotCommand{Command: "new", Description: "Create a task"},
		tgbotapi.BotCommand{Command: "board", Description: "Show the board"},
		tgbotapi.BotCommand{Command: "today", Description: "Tasks due today"},
		tgbotapi.BotCommand{Command: "overdue", Description: "Overdue tasks"},
		tgbotapi.BotCommand{Command: "move", Description: "Move a task"},
		tgbotapi.BotCommand{Command: "done", Description: "Complete a task"},
		tgbotapi.BotCommand{Command: "edit", Description: "Rename a task"},
		tgbotapi.BotCommand{Command: "delete", Description: "Delete a task"},
		tgbotapi.BotCommand{Command: "tags", Description: "Tag usage"},
		tgbotapi.BotCommand{Command: "search", Description: "Search tasks"},
		tgbotapi.BotCommand{Command: "timezone", Description: "Show or set timezone"},
		tgbotapi.BotCommand{Command: "digest", Description: "Daily digest on/off"},
		tgbotapi.BotCommand{Command: "export", Description: "Export Markdown/CSV"},
		tgbotapi.BotCommand{Command: "settings", Description: "Settings and columns"},
	)
	if _, err := b.api.Request(commands); err != nil {
		b.logger.Warn("failed to publish command menu", zap.Error(err))
	}
}

// reply sends plain text to a chat, logging a failed send instead of
// surfacing it; there is nobody upstream of the update loop to hand the
// error to.
func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyWithMarkup(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error("failed to send message", zap.Error(err))
	}
}

func (b *Bot) sendDocument(chatID int64, name string, data []byte, caption string) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	b.send(doc)
}

// answerCallback acknowledges a callback query, optionally with a toast.
func (b *Bot) answerCallback(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Warn("failed to answer callback", zap.Error(err))
	}
}

// answerCallbackAlert acknowledges a callback query with a popup alert.
func (b *Bot) answerCallbackAlert(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallbackWithAlert(callbackID, text)); err != nil {
		b.logger.Warn("failed to answer callback", zap.Error(err))
	}
}
