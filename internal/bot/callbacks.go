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
	"github.com/lalithlochan/taskdeck/internal/redis"
	"github.com/lalithlochan/taskdeck/internal/timeutil"
)

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil || query.Message == nil {
		return
	}
	if !b.userAllowed(query.From.ID) {
		b.answerCallbackAlert(query.ID, accessDeniedText)
		return
	}

	chatID := query.Message.Chat.ID
	sess, err := b.ensureSession(ctx, query.From.ID)
	if err != nil {
		b.logger.Error("failed to prepare session for callback", zap.Error(err), zap.Int64("chat_id", chatID))
		b.answerCallbackAlert(query.ID, somethingWrongText)
		return
	}

	data := query.Data

	switch data {
	case cbTaskCreate:
		b.answerCallback(query.ID, "")
		b.startNewTaskFlow(ctx, chatID)
		return
	case cbFlowSkip:
		b.callbackFlowSkip(ctx, query, chatID, sess)
		return
	case cbFlowCancel:
		b.clearDialog(ctx, chatID)
		b.answerCallback(query.ID, "Cancelled")
		b.reply(chatID, "Okay, cancelled.")
		return
	case cbExportRun:
		b.answerCallback(query.ID, "Exporting…")
		b.runExport(ctx, chatID, sess)
		return
	case cbTimezoneMenu:
		b.answerCallback(query.ID, "")
		b.replyWithMarkup(chatID, "Pick a timezone, or go custom for any IANA name.", timezoneQuickKeyboard())
		return
	case cbTimezoneCustom:
		if err := b.dialogs.Set(ctx, chatID, &redis.DialogState{Stage: stageTimezoneCustom}); err != nil {
			b.logger.Error("failed to start timezone dialog", zap.Error(err), zap.Int64("chat_id", chatID))
			b.answerCallbackAlert(query.ID, somethingWrongText)
			return
		}
		b.answerCallback(query.ID, "")
		b.reply(chatID, "Send the IANA timezone name, e.g. Europe/Berlin or Asia/Tokyo.")
		return
	case cbTimezoneBack:
		b.answerCallback(query.ID, "")
		b.replyWithMarkup(chatID, settingsOverview(sess.user, sess.columns), timezoneSettingsKeyboard())
		return
	}

	switch {
	case strings.HasPrefix(data, cbTimezoneSetPrefix):
		b.answerCallback(query.ID, "")
		b.setTimezone(ctx, chatID, strings.TrimPrefix(data, cbTimezoneSetPrefix), sess)

	case strings.HasPrefix(data, cbDuePrefix):
		b.callbackDuePreset(ctx, query, chatID, sess, strings.TrimPrefix(data, cbDuePrefix))

	case strings.HasPrefix(data, cbFilterPrefix):
		b.answerCallback(query.ID, "")
		switch strings.TrimPrefix(data, cbFilterPrefix) {
		case "today":
			b.sendToday(ctx, chatID, sess)
		case "overdue":
			b.sendOverdue(ctx, chatID, sess)
		default:
			b.sendBoard(ctx, chatID, sess)
		}

	case strings.HasPrefix(data, cbPrioritySetPrefix):
		b.callbackSetPriority(ctx, query, chatID, sess, strings.TrimPrefix(data, cbPrioritySetPrefix))

	case strings.HasPrefix(data, cbEditTagsPrefix):
		taskID, ok := parseCallbackID(strings.TrimPrefix(data, cbEditTagsPrefix))
		if !ok {
			b.answerCallback(query.ID, "")
			return
		}
		b.startTaskEditDialog(ctx, query, chatID, taskID, stageEditTags,
			"Send tags, comma separated (\"-\" clears them).")

	case strings.HasPrefix(data, cbEditDescriptionPrefix):
		taskID, ok := parseCallbackID(strings.TrimPrefix(data, cbEditDescriptionPrefix))
		if !ok {
			b.answerCallback(query.ID, "")
			return
		}
		b.startTaskEditDialog(ctx, query, chatID, taskID, stageEditDescription,
			"Send the description text.")

	case strings.HasPrefix(data, cbEditPriorityPrefix):
		taskID, ok := parseCallbackID(strings.TrimPrefix(data, cbEditPriorityPrefix))
		if !ok {
			b.answerCallback(query.ID, "")
			return
		}
		b.answerCallback(query.ID, "")
		b.replyWithMarkup(chatID, "Pick a priority (P1 is the most urgent).", taskPriorityKeyboard(taskID))

	case strings.HasPrefix(data, cbDonePrefix):
		b.callbackDone(ctx, query, chatID, sess, strings.TrimPrefix(data, cbDonePrefix))

	case strings.HasPrefix(data, cbMovePrefix):
		b.callbackMoveMenu(ctx, query, chatID, sess, strings.TrimPrefix(data, cbMovePrefix))

	case strings.HasPrefix(data, cbSwitchPrefix):
		b.callbackSwitchColumn(ctx, query, chatID, sess, strings.TrimPrefix(data, cbSwitchPrefix))

	case strings.HasPrefix(data, cbPostponePrefix):
		b.callbackPostpone(ctx, query, chatID, sess, strings.TrimPrefix(data, cbPostponePrefix))

	default:
		b.logger.Warn("unknown callback data", zap.String("data", data))
		b.answerCallback(query.ID, "")
	}
}

// callbackFlowSkip means different things per stage: the due step falls back
// to no due date, edit prompts are simply dropped, and the title cannot be
// skipped at all.
func (b *Bot) callbackFlowSkip(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, sess *session) {
	state, err := b.dialogs.Get(ctx, chatID)
	if err != nil {
		b.logger.Warn("failed to load dialog state", zap.Error(err), zap.Int64("chat_id", chatID))
	}
	if state == nil {
		b.answerCallbackAlert(query.ID, "Nothing to skip here.")
		return
	}

	switch state.Stage {
	case stageNewTaskTitle:
		b.answerCallbackAlert(query.ID, "I need a title to create the task. Cancel if you changed your mind.")
	case stageNewTaskDueChoice, stageNewTaskDueCustom:
		b.answerCallback(query.ID, "Skipped")
		b.completeNewTask(ctx, chatID, sess, state.Title, nil)
	default:
		b.clearDialog(ctx, chatID)
		b.answerCallback(query.ID, "Skipped")
		b.reply(chatID, "Skipped.")
	}
}

func (b *Bot) callbackDuePreset(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, sess *session, preset string) {
	state, err := b.dialogs.Get(ctx, chatID)
	if err != nil {
		b.logger.Warn("failed to load dialog state", zap.Error(err), zap.Int64("chat_id", chatID))
	}
	if state == nil || state.Title == "" {
		b.answerCallbackAlert(query.ID, "That flow has expired. Start again with /new.")
		return
	}

	if preset == "custom" {
		state.Stage = stageNewTaskDueCustom
		if err := b.dialogs.Set(ctx, chatID, state); err != nil {
			b.logger.Error("failed to advance new-task flow", zap.Error(err), zap.Int64("chat_id", chatID))
			b.answerCallbackAlert(query.ID, somethingWrongText)
			return
		}
		b.answerCallback(query.ID, "")
		b.reply(chatID, "Type the due date: 2026-03-01 14:30, 2026-03-01, 01.03.2026, +3d or +6h.")
		return
	}

	dueAt, ok := b.dueFromPreset(preset, sess.loc)
	if !ok {
		b.answerCallback(query.ID, "")
		return
	}
	b.answerCallback(query.ID, "")
	b.completeNewTask(ctx, chatID, sess, state.Title, dueAt)
}

// dueFromPreset maps the quick-pick buttons to concrete instants in the
// user's zone.
func (b *Bot) dueFromPreset(preset string, loc *time.Location) (*time.Time, bool) {
	now := b.clk.Now().UTC()
	switch preset {
	case "none":
		return nil, true
	case "today18":
		due := timeutil.DueAtHour(now, loc, 0, timeutil.DefaultDueHour)
		return &due, true
	case "tomorrow10":
		due := timeutil.DueAtHour(now, loc, 1, 10)
		return &due, true
	case "plus3d":
		due := timeutil.DueAtHour(now, loc, 3, 10)
		return &due, true
	}
	return nil, false
}

func (b *Bot) startTaskEditDialog(ctx context.Context, query *tgbotapi.CallbackQuery, chatID, taskID int64, stage, prompt string) {
	if err := b.dialogs.Set(ctx, chatID, &redis.DialogState{Stage: stage, TaskID: taskID}); err != nil {
		b.logger.Error("failed to start edit dialog", zap.Error(err), zap.Int64("chat_id", chatID))
		b.answerCallbackAlert(query.ID, somethingWrongText)
		return
	}
	b.answerCallback(query.ID, "")
	b.replyWithMarkup(chatID, fmt.Sprintf("#%d. %s", taskID, prompt), flowNavKeyboard())
}

func (b *Bot) callbackSetPriority(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, sess *session, payload string) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		b.answerCallback(query.ID, "")
		return
	}
	taskID, idOK := parseCallbackID(parts[0])
	priority, err := strconv.Atoi(parts[1])
	if !idOK || err != nil {
		b.answerCallback(query.ID, "")
		return
	}

	task, err := b.store.UpdateTaskPriority(ctx, sess.board.ID, taskID, priority)
	if err != nil {
		b.answerCallbackFromError(query.ID, err, "failed to update priority")
		return
	}
	b.answerCallback(query.ID, fmt.Sprintf("Priority P%d", task.Priority))
	b.reply(chatID, fmt.Sprintf("⚡ #%d is now P%d.", task.ID, task.Priority))
}

func (b *Bot) callbackDone(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, sess *session, payload string) {
	taskID, ok := parseCallbackID(payload)
	if !ok {
		b.answerCallback(query.ID, "")
		return
	}
	task, err := b.store.MarkTaskDone(ctx, sess.board.ID, taskID, b.clk.Now().UTC())
	if err != nil {
		b.answerCallbackFromError(query.ID, err, "failed to complete task")
		return
	}
	b.answerCallback(query.ID, "Done ✅")
	b.reply(chatID, fmt.Sprintf("✅ Done: #%d %s", task.ID, task.Title))
}

func (b *Bot) callbackMoveMenu(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, sess *session, payload string) {
	taskID, ok := parseCallbackID(payload)
	if !ok {
		b.answerCallback(query.ID, "")
		return
	}
	task, err := b.store.GetTask(ctx, sess.board.ID, taskID)
	if err != nil {
		b.answerCallbackFromError(query.ID, err, "failed to load task")
		return
	}
	b.answerCallback(query.ID, "")
	b.replyWithMarkup(chatID, fmt.Sprintf("Where should #%d go?", task.ID), moveTaskKeyboard(task.ID, sess.columns))
}

func (b *Bot) callbackSwitchColumn(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, sess *session, payload string) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		b.answerCallback(query.ID, "")
		return
	}
	taskID, taskOK := parseCallbackID(parts[0])
	columnID, columnOK := parseCallbackID(parts[1])
	if !taskOK || !columnOK {
		b.answerCallback(query.ID, "")
		return
	}

	var column *db.Column
	for i := range sess.columns {
		if sess.columns[i].ID == columnID {
			column = &sess.columns[i]
			break
		}
	}
	if column == nil {
		b.answerCallbackAlert(query.ID, "That column is gone. /settings shows the current list.")
		return
	}

	task, err := b.store.MoveTask(ctx, sess.board.ID, taskID, column, b.clk.Now().UTC())
	if err != nil {
		b.answerCallbackFromError(query.ID, err, "failed to move task")
		return
	}
	if task.Status == db.TaskStatusDone {
		b.answerCallback(query.ID, "Done ✅")
		b.reply(chatID, fmt.Sprintf("✅ Done: #%d %s", task.ID, task.Title))
		return
	}
	b.answerCallback(query.ID, "Moved")
	b.reply(chatID, fmt.Sprintf("↔ Moved #%d to %s.", task.ID, column.Name))
}

func (b *Bot) callbackPostpone(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, sess *session, payload string) {
	taskID, ok := parseCallbackID(payload)
	if !ok {
		b.answerCallback(query.ID, "")
		return
	}
	task, err := b.store.PostponeTask(ctx, sess.board.ID, taskID, 24, b.clk.Now().UTC())
	if err != nil {
		b.answerCallbackFromError(query.ID, err, "failed to postpone task")
		return
	}
	b.answerCallback(query.ID, "+1 day")
	b.reply(chatID, fmt.Sprintf("⏭ Postponed #%d to %s.", task.ID, timeutil.FormatInZone(*task.DueAt, sess.loc)))
}

// answerCallbackFromError surfaces store failures as callback alerts; a
// vanished task gets its own wording.
func (b *Bot) answerCallbackFromError(callbackID string, err error, logMsg string) {
	if errors.Is(err, db.ErrNotFound) {
		b.answerCallbackAlert(callbackID, "That task no longer exists.")
		return
	}
	b.logger.Error(logMsg, zap.Error(err))
	b.answerCallbackAlert(callbackID, somethingWrongText)
}

func parseCallbackID(token string) (int64, bool) {
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
