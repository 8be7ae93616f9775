package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lalithlochan/taskdeck/internal/db"
)

// Reply-keyboard quick buttons. The text handlers match on these labels.
const (
	btnNew      = "➕ New"
	btnBoard    = "📋 Board"
	btnToday    = "📅 Today"
	btnOverdue  = "🚨 Overdue"
	btnExport   = "📦 Export"
	btnSettings = "⚙️ Settings"
)

// Callback data values. Prefixed entries carry ids after the prefix.
const (
	cbTaskCreate = "task:create"
	cbFlowSkip   = "task:new:skip"
	cbFlowCancel = "task:new:cancel"
	cbExportRun  = "export:run"

	cbDuePrefix      = "task:due:"
	cbFilterPrefix   = "filter:set:"
	cbDonePrefix     = "task:done:"
	cbMovePrefix     = "task:move:"
	cbPostponePrefix = "task:postpone:"
	cbSwitchPrefix   = "column:switch:"

	cbEditTagsPrefix        = "task:edit:tags:"
	cbEditDescriptionPrefix = "task:edit:description:"
	cbEditPriorityPrefix    = "task:edit:priority:"
	cbPrioritySetPrefix     = "task:priority:set:"

	cbTimezoneMenu      = "settings:timezone"
	cbTimezoneSetPrefix = "settings:timezone:set:"
	cbTimezoneCustom    = "settings:timezone:custom"
	cbTimezoneBack      = "settings:timezone:back"
)

// timezonePresets are the one-tap options in the timezone menu.
var timezonePresets = []string{
	"UTC",
	"Europe/Moscow",
	"Europe/Berlin",
	"Europe/London",
	"America/New_York",
	"Asia/Novosibirsk",
}

func mainReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnNew),
			tgbotapi.NewKeyboardButton(btnBoard),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnToday),
			tgbotapi.NewKeyboardButton(btnOverdue),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnExport),
			tgbotapi.NewKeyboardButton(btnSettings),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func boardControlsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ New task", cbTaskCreate),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Today", cbFilterPrefix+"today"),
			tgbotapi.NewInlineKeyboardButtonData("Overdue", cbFilterPrefix+"overdue"),
			tgbotapi.NewInlineKeyboardButtonData("All", cbFilterPrefix+"all"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Export", cbExportRun),
		),
	)
}

func taskActionsKeyboard(taskID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Done", fmt.Sprintf("%s%d", cbDonePrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("↔ Move", fmt.Sprintf("%s%d", cbMovePrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("⏭ +1 day", fmt.Sprintf("%s%d", cbPostponePrefix, taskID)),
		),
	)
}

func moveTaskKeyboard(taskID int64, columns []db.Column) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, column := range columns {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			column.Name,
			fmt.Sprintf("%s%d:%d", cbSwitchPrefix, taskID, column.ID),
		))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func newTaskDueKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("No due date", cbDuePrefix+"none"),
			tgbotapi.NewInlineKeyboardButtonData("Today 18:00", cbDuePrefix+"today18"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Tomorrow 10:00", cbDuePrefix+"tomorrow10"),
			tgbotapi.NewInlineKeyboardButtonData("+3 days", cbDuePrefix+"plus3d"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Custom…", cbDuePrefix+"custom"),
		),
	)
}

func flowNavKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Skip", cbFlowSkip),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbFlowCancel),
		),
	)
}

func postCreateEditKeyboard(taskID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏷 Tags", fmt.Sprintf("%s%d", cbEditTagsPrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("📝 Description", fmt.Sprintf("%s%d", cbEditDescriptionPrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("⚡ Priority", fmt.Sprintf("%s%d", cbEditPriorityPrefix, taskID)),
		),
	)
}

func taskPriorityKeyboard(taskID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("P1", fmt.Sprintf("%s%d:1", cbPrioritySetPrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("P2", fmt.Sprintf("%s%d:2", cbPrioritySetPrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("P3", fmt.Sprintf("%s%d:3", cbPrioritySetPrefix, taskID)),
		),
	)
}

func timezoneSettingsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🌍 Change timezone", cbTimezoneMenu),
		),
	)
}

func timezoneQuickKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, name := range timezonePresets {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(name, cbTimezoneSetPrefix+name))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Custom…", cbTimezoneCustom),
		tgbotapi.NewInlineKeyboardButtonData("← Back", cbTimezoneBack),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
