package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lalithlochan/taskdeck/internal/db"
	"github.com/lalithlochan/taskdeck/internal/timeutil"
)

// messageLimit keeps rendered chunks under Telegram's 4096-char cap with
// headroom for markup.
const messageLimit = 3800

// boardTaskLimit caps how many tasks one column section lists.
const boardTaskLimit = 20

// actionKeyboardLimit caps how many per-task action keyboards follow a list.
const actionKeyboardLimit = 8

const helpText = `TaskDeck: quick mode

Basics:
/start - start and main menu
/new - create a task
/board - show the board
/today - due today
/overdue - overdue tasks
/export - Markdown/CSV export
/settings - settings

More:
/move <task_id> <column_id|name>
/done <task_id>
/edit <task_id> <new title>
/delete <task_id>
/settags <task_id> <tag1,tag2>
/tags
/search <text>
/timezone <Europe/Moscow>
/digest <on|off|status>

Due dates can be entered as:
2026-03-01 14:30, 2026-03-01, 01.03.2026, +3d, +6h`

// taskLine renders one task for lists: id, priority, title, tags, due.
func taskLine(task db.Task, loc *time.Location) string {
	line := fmt.Sprintf("#%d P%d %s", task.ID, task.Priority, task.Title)
	if len(task.Tags) > 0 {
		names := make([]string, 0, len(task.Tags))
		for _, tag := range task.Tags {
			names = append(names, tag.Name)
		}
		sort.Strings(names)
		line += fmt.Sprintf(" [%s]", strings.Join(names, ", "))
	}
	if task.DueAt != nil {
		line += fmt.Sprintf(" | due %s", timeutil.FormatInZone(*task.DueAt, loc))
	}
	return line
}

// boardText renders the whole board, one section per column in board order.
func boardText(columns []db.Column, tasksByColumn map[int64][]db.Task, loc *time.Location) string {
	lines := []string{"📌 Your board", ""}

	for _, column := range columns {
		tasks := tasksByColumn[column.ID]
		lines = append(lines, fmt.Sprintf("%s (%d)", column.Name, len(tasks)))
		if len(tasks) == 0 {
			lines = append(lines, "  · empty")
		}
		for i, task := range tasks {
			if i == boardTaskLimit {
				break
			}
			lines = append(lines, fmt.Sprintf("  · %s", taskLine(task, loc)))
		}
		lines = append(lines, "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// listLines renders a titled task list as lines ready for chunking.
func listLines(title string, tasks []db.Task, loc *time.Location) []string {
	lines := []string{title, ""}
	for _, task := range tasks {
		lines = append(lines, fmt.Sprintf("• %s", taskLine(task, loc)))
	}
	return lines
}

// settingsOverview renders the current user settings and column layout.
func settingsOverview(user *db.User, columns []db.Column) string {
	lines := []string{
		"⚙️ Settings",
		fmt.Sprintf("Timezone: %s", user.Timezone),
		fmt.Sprintf("Digest: %s", onOff(user.DigestEnabled)),
		"",
		"Columns:",
	}
	for _, column := range columns {
		marker := ""
		if column.IsDone {
			marker = " [DONE]"
		}
		lines = append(lines, fmt.Sprintf("• id=%d pos=%d name=%s%s", column.ID, column.Position, column.Name, marker))
	}
	lines = append(lines,
		"",
		"Column commands:",
		"/settings addcol <name>",
		"/settings renamecol <id> <name>",
		"/settings movecol <id> <position>",
		"/settings delcol <id>",
	)
	return strings.Join(lines, "\n")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// chunkLines joins lines into messages that each stay under limit bytes.
// A single oversized line still becomes its own chunk rather than being
// dropped.
func chunkLines(lines []string, limit int) []string {
	var chunks []string
	var current []string
	size := 0

	for _, line := range lines {
		if size+len(line)+1 > limit && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = nil
			size = 0
		}
		current = append(current, line)
		size += len(line) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}

// parseTags splits comma-separated tag input, lowercasing and de-duplicating
// while keeping first-seen order. Clear words yield an empty set.
func parseTags(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "", "-", "none", "skip":
		return nil
	}

	seen := make(map[string]struct{})
	var result []string
	for _, item := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.TrimSpace(item))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	return result
}

// splitCommandArgs splits "/cmd rest of line" into the first token and the
// remainder.
func splitCommandArgs(args string) (string, string) {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}
