package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskdeck/internal/db"
	"github.com/lalithlochan/taskdeck/internal/export"
	"github.com/lalithlochan/taskdeck/internal/metrics"
	"github.com/lalithlochan/taskdeck/internal/redis"
	"github.com/lalithlochan/taskdeck/internal/timeutil"
)

const defaultPriority = 2

const (
	accessDeniedText   = "⛔ This bot serves a fixed list of accounts. Yours is not on it."
	throttledText      = "🐢 Too many messages. Give it a few seconds and try again."
	somethingWrongText = "Something went wrong on my side. Try again in a moment."
	dueFormatsHint     = "I could not read that date. Try 2026-03-01 14:30, 2026-03-01, 01.03.2026, +3d or +6h."
)

// session is the per-update working set: the resolved user, their board,
// the board's columns, and the user's location.
type session struct {
	user    *db.User
	board   *db.Board
	columns []db.Column
	loc     *time.Location
	created bool
}

// ensureSession resolves the sender into a user with a ready board. First
// contact provisions the board with its default columns.
func (b *Bot) ensureSession(ctx context.Context, telegramID int64) (*session, error) {
	user, board, columns, created, err := b.store.Bootstrap(ctx, telegramID, b.defaultTZ)
	if err != nil {
		return nil, fmt.Errorf("bootstrap user %d: %w", telegramID, err)
	}

	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		b.logger.Warn("stored timezone failed to load, falling back to UTC",
			zap.String("timezone", user.Timezone),
			zap.Int64("user_id", user.ID))
		loc = time.UTC
	}

	return &session{user: user, board: board, columns: columns, loc: loc, created: created}, nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID

	if !b.userAllowed(msg.From.ID) {
		b.reply(chatID, accessDeniedText)
		return
	}

	// A broken limiter must not silence the bot, so errors fail open.
	allowed, err := b.limiter.Allow(ctx, chatID)
	if err != nil {
		b.logger.Warn("rate limiter unavailable, letting update through", zap.Error(err))
	} else if !allowed {
		metrics.RecordBotThrottled()
		b.reply(chatID, throttledText)
		return
	}

	sess, err := b.ensureSession(ctx, msg.From.ID)
	if err != nil {
		b.logger.Error("failed to prepare session", zap.Error(err), zap.Int64("chat_id", chatID))
		b.reply(chatID, somethingWrongText)
		return
	}

	if msg.IsCommand() {
		metrics.RecordBotCommand(msg.Command())
		// A command always abandons whatever dialog was in flight.
		b.clearDialog(ctx, chatID)
		b.handleCommand(ctx, msg, sess)
		return
	}

	state, err := b.dialogs.Get(ctx, chatID)
	if err != nil {
		b.logger.Warn("failed to load dialog state", zap.Error(err), zap.Int64("chat_id", chatID))
	}
	if state != nil {
		b.handleDialogText(ctx, chatID, msg.Text, sess, state)
		return
	}

	b.handleQuickButton(ctx, msg, sess)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, sess *session) {
	chatID := msg.Chat.ID
	args := msg.CommandArguments()

	switch msg.Command() {
	case "start":
		b.cmdStart(chatID, sess)
	case "help":
		b.reply(chatID, helpText)
	case "new":
		b.startNewTaskFlow(ctx, chatID)
	case "board":
		b.sendBoard(ctx, chatID, sess)
	case "today":
		b.sendToday(ctx, chatID, sess)
	case "overdue":
		b.sendOverdue(ctx, chatID, sess)
	case "move":
		b.cmdMove(ctx, chatID, args, sess)
	case "done":
		b.cmdDone(ctx, chatID, args, sess)
	case "edit":
		b.cmdEdit(ctx, chatID, args, sess)
	case "delete":
		b.cmdDelete(ctx, chatID, args, sess)
	case "settags":
		b.cmdSetTags(ctx, chatID, args, sess)
	case "tags":
		b.cmdTags(ctx, chatID, sess)
	case "search":
		b.cmdSearch(ctx, chatID, args, sess)
	case "timezone":
		b.cmdTimezone(ctx, chatID, args, sess)
	case "digest":
		b.cmdDigest(ctx, chatID, args, sess)
	case "export":
		b.runExport(ctx, chatID, sess)
	case "settings":
		b.cmdSettings(ctx, chatID, args, sess)
	default:
		b.reply(chatID, "Unknown command. /help lists everything I understand.")
	}
}

// handleQuickButton matches the reply-keyboard labels; anything else gets a
// gentle pointer at /help.
func (b *Bot) handleQuickButton(ctx context.Context, msg *tgbotapi.Message, sess *session) {
	chatID := msg.Chat.ID

	switch strings.TrimSpace(msg.Text) {
	case btnNew:
		b.startNewTaskFlow(ctx, chatID)
	case btnBoard:
		b.sendBoard(ctx, chatID, sess)
	case btnToday:
		b.sendToday(ctx, chatID, sess)
	case btnOverdue:
		b.sendOverdue(ctx, chatID, sess)
	case btnExport:
		b.runExport(ctx, chatID, sess)
	case btnSettings:
		b.cmdSettings(ctx, chatID, "", sess)
	default:
		b.reply(chatID, "Not sure what to do with that. /help lists the commands, or use the buttons below.")
	}
}

func (b *Bot) cmdStart(chatID int64, sess *session) {
	lines := []string{"👋 TaskDeck here: your board, due dates and daily digest, all in this chat.", ""}
	if sess.created {
		lines = append(lines,
			fmt.Sprintf("I set up a fresh board for you with columns Inbox, Todo, Doing and Done. Your timezone is %s; /timezone changes it.", sess.user.Timezone),
			"")
	}
	lines = append(lines, "Use the buttons below, or /help for the full command list.")
	b.replyWithMarkup(chatID, strings.Join(lines, "\n"), mainReplyKeyboard())
}

func (b *Bot) startNewTaskFlow(ctx context.Context, chatID int64) {
	if err := b.dialogs.Set(ctx, chatID, &redis.DialogState{Stage: stageNewTaskTitle}); err != nil {
		b.logger.Error("failed to start new-task flow", zap.Error(err), zap.Int64("chat_id", chatID))
		b.reply(chatID, somethingWrongText)
		return
	}
	b.replyWithMarkup(chatID, "📝 New task. Send me the title.", flowNavKeyboard())
}

func (b *Bot) sendBoard(ctx context.Context, chatID int64, sess *session) {
	tasks, err := b.store.ListBoardTasks(ctx, sess.board.ID)
	if err != nil {
		b.logger.Error("failed to load board", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}

	text := boardText(sess.columns, export.GroupByColumn(sess.columns, tasks), sess.loc)
	chunks := chunkLines(strings.Split(text, "\n"), messageLimit)
	for i, chunk := range chunks {
		if i == len(chunks)-1 {
			b.replyWithMarkup(chatID, chunk, boardControlsKeyboard())
			continue
		}
		b.reply(chatID, chunk)
	}
}

func (b *Bot) sendToday(ctx context.Context, chatID int64, sess *session) {
	tasks, err := b.store.TasksDueToday(ctx, sess.board.ID, sess.loc, b.clk.Now().UTC())
	if err != nil {
		b.logger.Error("failed to load today's tasks", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}
	b.sendTaskList(chatID, "📅 Today", tasks, sess.loc)
}

func (b *Bot) sendOverdue(ctx context.Context, chatID int64, sess *session) {
	tasks, err := b.store.OverdueTasks(ctx, sess.board.ID, sess.loc, b.clk.Now().UTC())
	if err != nil {
		b.logger.Error("failed to load overdue tasks", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}
	b.sendTaskList(chatID, "🚨 Overdue", tasks, sess.loc)
}

// sendTaskList sends a titled list in chunks, then attaches quick-action
// keyboards to the first few tasks as separate messages.
func (b *Bot) sendTaskList(chatID int64, title string, tasks []db.Task, loc *time.Location) {
	if len(tasks) == 0 {
		b.reply(chatID, title+"\n\nNothing here.")
		return
	}

	for _, chunk := range chunkLines(listLines(title, tasks, loc), messageLimit) {
		b.reply(chatID, chunk)
	}

	limit := len(tasks)
	if limit > actionKeyboardLimit {
		limit = actionKeyboardLimit
	}
	for _, task := range tasks[:limit] {
		b.replyWithMarkup(chatID, fmt.Sprintf("Actions for #%d", task.ID), taskActionsKeyboard(task.ID))
	}
}

func (b *Bot) cmdMove(ctx context.Context, chatID int64, args string, sess *session) {
	idToken, columnToken := splitCommandArgs(args)
	if idToken == "" {
		b.reply(chatID, "Usage: /move <task_id> [column id or name]")
		return
	}
	taskID, err := strconv.ParseInt(idToken, 10, 64)
	if err != nil {
		b.reply(chatID, "The task id must be a number. Usage: /move <task_id> [column]")
		return
	}

	if columnToken == "" {
		task, err := b.store.GetTask(ctx, sess.board.ID, taskID)
		if err != nil {
			b.replyStoreError(chatID, err, "failed to load task")
			return
		}
		b.replyWithMarkup(chatID, fmt.Sprintf("Where should #%d go?", task.ID), moveTaskKeyboard(task.ID, sess.columns))
		return
	}

	column, err := b.store.ResolveColumn(ctx, sess.board.ID, columnToken)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("No column %q here. /settings shows the column list.", columnToken))
			return
		}
		b.replyStoreError(chatID, err, "failed to resolve column")
		return
	}

	task, err := b.store.MoveTask(ctx, sess.board.ID, taskID, column, b.clk.Now().UTC())
	if err != nil {
		b.replyStoreError(chatID, err, "failed to move task")
		return
	}
	if task.Status == db.TaskStatusDone {
		b.reply(chatID, fmt.Sprintf("✅ Done: #%d %s", task.ID, task.Title))
		return
	}
	b.reply(chatID, fmt.Sprintf("↔ Moved #%d to %s.", task.ID, column.Name))
}

func (b *Bot) cmdDone(ctx context.Context, chatID int64, args string, sess *session) {
	taskID, ok := b.parseTaskID(chatID, args, "Usage: /done <task_id>")
	if !ok {
		return
	}
	task, err := b.store.MarkTaskDone(ctx, sess.board.ID, taskID, b.clk.Now().UTC())
	if err != nil {
		b.replyStoreError(chatID, err, "failed to complete task")
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Done: #%d %s", task.ID, task.Title))
}

func (b *Bot) cmdEdit(ctx context.Context, chatID int64, args string, sess *session) {
	idToken, newTitle := splitCommandArgs(args)
	taskID, err := strconv.ParseInt(idToken, 10, 64)
	if idToken == "" || err != nil || newTitle == "" {
		b.reply(chatID, "Usage: /edit <task_id> <new title>")
		return
	}
	task, err := b.store.EditTaskTitle(ctx, sess.board.ID, taskID, newTitle)
	if err != nil {
		b.replyStoreError(chatID, err, "failed to rename task")
		return
	}
	b.reply(chatID, fmt.Sprintf("✏️ #%d is now: %s", task.ID, task.Title))
}

func (b *Bot) cmdDelete(ctx context.Context, chatID int64, args string, sess *session) {
	taskID, ok := b.parseTaskID(chatID, args, "Usage: /delete <task_id>")
	if !ok {
		return
	}
	if err := b.store.DeleteTask(ctx, sess.board.ID, taskID); err != nil {
		b.replyStoreError(chatID, err, "failed to delete task")
		return
	}
	b.reply(chatID, fmt.Sprintf("🗑 Deleted #%d.", taskID))
}

func (b *Bot) cmdSetTags(ctx context.Context, chatID int64, args string, sess *session) {
	idToken, rawTags := splitCommandArgs(args)
	taskID, err := strconv.ParseInt(idToken, 10, 64)
	if idToken == "" || err != nil {
		b.reply(chatID, "Usage: /settags <task_id> <tag1,tag2> (or \"-\" to clear)")
		return
	}

	task, err := b.store.SetTaskTags(ctx, sess.board.ID, taskID, parseTags(rawTags))
	if err != nil {
		b.replyStoreError(chatID, err, "failed to set tags")
		return
	}
	if len(task.Tags) == 0 {
		b.reply(chatID, fmt.Sprintf("🏷 Cleared tags on #%d.", task.ID))
		return
	}
	names := make([]string, 0, len(task.Tags))
	for _, tag := range task.Tags {
		names = append(names, tag.Name)
	}
	b.reply(chatID, fmt.Sprintf("🏷 Tags on #%d: %s", task.ID, strings.Join(names, ", ")))
}

func (b *Bot) cmdTags(ctx context.Context, chatID int64, sess *session) {
	stats, err := b.store.TagStats(ctx, sess.board.ID)
	if err != nil {
		b.logger.Error("failed to load tag stats", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}
	if len(stats) == 0 {
		b.reply(chatID, "🏷 No tags yet. Add some with /settags <task_id> <tag1,tag2>.")
		return
	}

	lines := []string{"🏷 Tags", ""}
	for _, stat := range stats {
		lines = append(lines, fmt.Sprintf("• %s: %d", stat.Name, stat.Count))
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdSearch(ctx context.Context, chatID int64, args string, sess *session) {
	query := strings.TrimSpace(args)
	if query == "" {
		b.reply(chatID, "Usage: /search <text>")
		return
	}
	tasks, err := b.store.SearchTasks(ctx, sess.board.ID, query)
	if err != nil {
		b.logger.Error("search failed", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}
	b.sendTaskList(chatID, fmt.Sprintf("🔍 Search: %s", query), tasks, sess.loc)
}

func (b *Bot) cmdTimezone(ctx context.Context, chatID int64, args string, sess *session) {
	name := strings.TrimSpace(args)
	if name == "" {
		text := fmt.Sprintf("🌍 Your timezone is %s.\nLocal time now: %s",
			sess.user.Timezone,
			b.clk.Now().In(sess.loc).Format("15:04"))
		b.replyWithMarkup(chatID, text, timezoneQuickKeyboard())
		return
	}
	b.setTimezone(ctx, chatID, name, sess)
}

// setTimezone validates the IANA name before persisting it. The scheduler
// skips users whose stored zone fails to load, so a bad value must never
// get in.
func (b *Bot) setTimezone(ctx context.Context, chatID int64, name string, sess *session) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("I do not know the timezone %q. Use an IANA name like Europe/Moscow or America/New_York.", name))
		return
	}
	if err := b.store.UpdateUserTimezone(ctx, sess.user.ID, name); err != nil {
		b.logger.Error("failed to update timezone", zap.Error(err), zap.Int64("user_id", sess.user.ID))
		b.reply(chatID, somethingWrongText)
		return
	}
	b.reply(chatID, fmt.Sprintf("🌍 Timezone set to %s. Local time now: %s",
		name, b.clk.Now().In(loc).Format("15:04")))
}

func (b *Bot) cmdDigest(ctx context.Context, chatID int64, args string, sess *session) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on":
		if err := b.store.SetDigestEnabled(ctx, sess.user.ID, true); err != nil {
			b.logger.Error("failed to enable digest", zap.Error(err), zap.Int64("user_id", sess.user.ID))
			b.reply(chatID, somethingWrongText)
			return
		}
		b.reply(chatID, "🔔 Daily digest is on. It arrives each morning in your timezone.")
	case "off":
		if err := b.store.SetDigestEnabled(ctx, sess.user.ID, false); err != nil {
			b.logger.Error("failed to disable digest", zap.Error(err), zap.Int64("user_id", sess.user.ID))
			b.reply(chatID, somethingWrongText)
			return
		}
		b.reply(chatID, "🔕 Daily digest is off.")
	case "", "status":
		b.reply(chatID, fmt.Sprintf("Daily digest: %s. Switch with /digest on or /digest off.", onOff(sess.user.DigestEnabled)))
	default:
		b.reply(chatID, "Usage: /digest <on|off|status>")
	}
}

func (b *Bot) runExport(ctx context.Context, chatID int64, sess *session) {
	tasks, err := b.store.ListBoardTasks(ctx, sess.board.ID)
	if err != nil {
		b.logger.Error("failed to load tasks for export", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}

	payload, err := export.Build(sess.columns, tasks, sess.loc, b.clk.Now().UTC())
	if err != nil {
		b.logger.Error("failed to build export", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}

	b.sendDocument(chatID, payload.MarkdownName, payload.Markdown, "Markdown export")
	b.sendDocument(chatID, payload.CSVName, payload.CSV, "CSV export")

	// The audit trail is best effort; the user already has the files.
	if err := b.store.LogExport(ctx, sess.user.ID, db.ExportFormatMarkdown, payload.MarkdownName); err != nil {
		b.logger.Warn("failed to log export", zap.Error(err), zap.String("file", payload.MarkdownName))
	}
	if err := b.store.LogExport(ctx, sess.user.ID, db.ExportFormatCSV, payload.CSVName); err != nil {
		b.logger.Warn("failed to log export", zap.Error(err), zap.String("file", payload.CSVName))
	}
}

func (b *Bot) cmdSettings(ctx context.Context, chatID int64, args string, sess *session) {
	sub, rest := splitCommandArgs(args)
	switch sub {
	case "":
		b.replyWithMarkup(chatID, settingsOverview(sess.user, sess.columns), timezoneSettingsKeyboard())
	case "addcol":
		b.settingsAddColumn(ctx, chatID, rest, sess)
	case "renamecol":
		b.settingsRenameColumn(ctx, chatID, rest, sess)
	case "movecol":
		b.settingsMoveColumn(ctx, chatID, rest, sess)
	case "delcol":
		b.settingsDeleteColumn(ctx, chatID, rest, sess)
	default:
		b.reply(chatID, "Usage: /settings [addcol <name> | renamecol <id> <name> | movecol <id> <position> | delcol <id>]")
	}
}

func (b *Bot) settingsAddColumn(ctx context.Context, chatID int64, rest string, sess *session) {
	name := strings.TrimSpace(rest)
	if name == "" {
		b.reply(chatID, "Usage: /settings addcol <name>")
		return
	}
	column, err := b.store.CreateColumn(ctx, sess.board.ID, name)
	if err != nil {
		b.logger.Error("failed to add column", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}
	b.reply(chatID, fmt.Sprintf("➕ Column %q added (id=%d).", column.Name, column.ID))
}

func (b *Bot) settingsRenameColumn(ctx context.Context, chatID int64, rest string, sess *session) {
	idToken, name := splitCommandArgs(rest)
	columnID, err := strconv.ParseInt(idToken, 10, 64)
	if idToken == "" || err != nil || name == "" {
		b.reply(chatID, "Usage: /settings renamecol <id> <new name>")
		return
	}
	column, err := b.store.RenameColumn(ctx, sess.board.ID, columnID, name)
	if err != nil {
		b.replyColumnError(chatID, err, "failed to rename column")
		return
	}
	b.reply(chatID, fmt.Sprintf("✏️ Column %d is now %q.", column.ID, column.Name))
}

func (b *Bot) settingsMoveColumn(ctx context.Context, chatID int64, rest string, sess *session) {
	idToken, posToken := splitCommandArgs(rest)
	columnID, idErr := strconv.ParseInt(idToken, 10, 64)
	position, posErr := strconv.Atoi(posToken)
	if idToken == "" || idErr != nil || posErr != nil {
		b.reply(chatID, "Usage: /settings movecol <id> <position>")
		return
	}
	columns, err := b.store.ReorderColumn(ctx, sess.board.ID, columnID, position)
	if err != nil {
		b.replyColumnError(chatID, err, "failed to reorder column")
		return
	}
	lines := []string{"↕️ New column order:"}
	for _, column := range columns {
		lines = append(lines, fmt.Sprintf("%d. %s", column.Position, column.Name))
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) settingsDeleteColumn(ctx context.Context, chatID int64, rest string, sess *session) {
	columnID, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		b.reply(chatID, "Usage: /settings delcol <id>")
		return
	}
	if err := b.store.DeleteColumn(ctx, sess.board.ID, columnID); err != nil {
		b.replyColumnError(chatID, err, "failed to delete column")
		return
	}
	b.reply(chatID, "🗑 Column deleted. Its tasks moved to the first remaining column.")
}

// handleDialogText routes plain text while a dialog is waiting for input.
func (b *Bot) handleDialogText(ctx context.Context, chatID int64, text string, sess *session, state *redis.DialogState) {
	switch state.Stage {
	case stageNewTaskTitle:
		b.dialogNewTaskTitle(ctx, chatID, text, state)
	case stageNewTaskDueChoice, stageNewTaskDueCustom:
		// Typed text during the due step is taken as a custom due date.
		b.dialogNewTaskDue(ctx, chatID, text, sess, state)
	case stageEditTags:
		b.dialogEditTags(ctx, chatID, text, sess, state)
	case stageEditDescription:
		b.dialogEditDescription(ctx, chatID, text, sess, state)
	case stageTimezoneCustom:
		b.clearDialog(ctx, chatID)
		b.setTimezone(ctx, chatID, strings.TrimSpace(text), sess)
	default:
		b.logger.Warn("unknown dialog stage, dropping state", zap.String("stage", state.Stage), zap.Int64("chat_id", chatID))
		b.clearDialog(ctx, chatID)
		b.reply(chatID, "Let's start over. /help lists the commands.")
	}
}

func (b *Bot) dialogNewTaskTitle(ctx context.Context, chatID int64, text string, state *redis.DialogState) {
	title := strings.TrimSpace(text)
	if title == "" {
		b.reply(chatID, "The title cannot be empty. Send me a short description of the task.")
		return
	}

	state.Stage = stageNewTaskDueChoice
	state.Title = title
	if err := b.dialogs.Set(ctx, chatID, state); err != nil {
		b.logger.Error("failed to advance new-task flow", zap.Error(err), zap.Int64("chat_id", chatID))
		b.reply(chatID, somethingWrongText)
		return
	}
	b.replyWithMarkup(chatID, "When is it due? Pick an option or type a date.", newTaskDueKeyboard())
}

func (b *Bot) dialogNewTaskDue(ctx context.Context, chatID int64, text string, sess *session, state *redis.DialogState) {
	dueAt, err := timeutil.ParseDueInput(text, sess.loc, b.clk.Now().UTC())
	if err != nil {
		b.reply(chatID, dueFormatsHint)
		return
	}
	b.completeNewTask(ctx, chatID, sess, state.Title, dueAt)
}

func (b *Bot) dialogEditTags(ctx context.Context, chatID int64, text string, sess *session, state *redis.DialogState) {
	b.clearDialog(ctx, chatID)
	task, err := b.store.SetTaskTags(ctx, sess.board.ID, state.TaskID, parseTags(text))
	if err != nil {
		b.replyStoreError(chatID, err, "failed to set tags")
		return
	}
	if len(task.Tags) == 0 {
		b.reply(chatID, fmt.Sprintf("🏷 Cleared tags on #%d.", task.ID))
		return
	}
	b.reply(chatID, fmt.Sprintf("🏷 Tagged #%d: %s", task.ID, taskLine(*task, sess.loc)))
}

func (b *Bot) dialogEditDescription(ctx context.Context, chatID int64, text string, sess *session, state *redis.DialogState) {
	b.clearDialog(ctx, chatID)
	task, err := b.store.UpdateTaskDescription(ctx, sess.board.ID, state.TaskID, strings.TrimSpace(text))
	if err != nil {
		b.replyStoreError(chatID, err, "failed to update description")
		return
	}
	b.reply(chatID, fmt.Sprintf("📝 Description saved on #%d.", task.ID))
}

// completeNewTask finishes the creation flow. New tasks land in the first
// column with priority 2 and no description; the follow-up keyboard covers
// the rest.
func (b *Bot) completeNewTask(ctx context.Context, chatID int64, sess *session, title string, dueAt *time.Time) {
	b.clearDialog(ctx, chatID)

	task, err := b.store.CreateTask(ctx, db.CreateTaskParams{
		BoardID:  sess.board.ID,
		Title:    title,
		Priority: defaultPriority,
		DueAt:    dueAt,
		Now:      b.clk.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("failed to create task", zap.Error(err), zap.Int64("board_id", sess.board.ID))
		b.reply(chatID, somethingWrongText)
		return
	}

	text := fmt.Sprintf("✅ Created #%d: %s", task.ID, task.Title)
	if task.DueAt != nil {
		text += fmt.Sprintf("\nDue %s", timeutil.FormatInZone(*task.DueAt, sess.loc))
	}
	b.replyWithMarkup(chatID, text, postCreateEditKeyboard(task.ID))
}

func (b *Bot) parseTaskID(chatID int64, args, usage string) (int64, bool) {
	taskID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		b.reply(chatID, usage)
		return 0, false
	}
	return taskID, true
}

func (b *Bot) clearDialog(ctx context.Context, chatID int64) {
	if err := b.dialogs.Clear(ctx, chatID); err != nil {
		b.logger.Warn("failed to clear dialog state", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

// replyStoreError maps task-level store failures to user-facing text.
func (b *Bot) replyStoreError(chatID int64, err error, logMsg string) {
	if errors.Is(err, db.ErrNotFound) {
		b.reply(chatID, "No task with that id. /board shows the current ids.")
		return
	}
	b.logger.Error(logMsg, zap.Error(err), zap.Int64("chat_id", chatID))
	b.reply(chatID, somethingWrongText)
}

func (b *Bot) replyColumnError(chatID int64, err error, logMsg string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		b.reply(chatID, "No column with that id. /settings shows the column list.")
	case errors.Is(err, db.ErrLastColumn):
		b.reply(chatID, "That is the only column left; a board needs at least one.")
	default:
		b.logger.Error(logMsg, zap.Error(err), zap.Int64("chat_id", chatID))
		b.reply(chatID, somethingWrongText)
	}
}
