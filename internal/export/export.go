// Package export renders a board as downloadable Markdown and CSV
// documents and names the files for the upload.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/taskdeck/internal/db"
	"github.com/lalithlochan/taskdeck/internal/timeutil"
)

// Payload is one rendered export: both documents plus their file names.
type Payload struct {
	MarkdownName string
	Markdown     []byte
	CSVName      string
	CSV          []byte
}

// Build renders the whole board once in both formats. The two file names
// share one date stamp and short id, so the pair from a single export is
// recognizable in the chat history.
func Build(columns []db.Column, tasks []db.Task, loc *time.Location, now time.Time) (*Payload, error) {
	md := Markdown(columns, GroupByColumn(columns, tasks), loc)
	csvData, err := CSV(tasks, loc)
	if err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}

	stamp := now.In(loc).Format("20060102")
	shortID := uuid.NewString()[:8]

	return &Payload{
		MarkdownName: fmt.Sprintf("tasks-%s-%s.md", stamp, shortID),
		Markdown:     []byte(md),
		CSVName:      fmt.Sprintf("tasks-%s-%s.csv", stamp, shortID),
		CSV:          []byte(csvData),
	}, nil
}

// GroupByColumn buckets tasks under their column id. Tasks whose column was
// deleted out from under them carry no column and are left out; the CSV
// still lists them.
func GroupByColumn(columns []db.Column, tasks []db.Task) map[int64][]db.Task {
	byColumn := make(map[int64][]db.Task, len(columns))
	for _, column := range columns {
		byColumn[column.ID] = nil
	}
	for _, task := range tasks {
		if task.ColumnID == nil {
			continue
		}
		byColumn[*task.ColumnID] = append(byColumn[*task.ColumnID], task)
	}
	return byColumn
}

// Markdown renders the board grouped by column, one section per column in
// board order.
func Markdown(columns []db.Column, tasksByColumn map[int64][]db.Task, loc *time.Location) string {
	lines := []string{"# Task export", ""}

	for _, column := range columns {
		lines = append(lines, fmt.Sprintf("## %s", column.Name))
		tasks := tasksByColumn[column.ID]
		if len(tasks) == 0 {
			lines = append(lines, "- _(empty)_", "")
			continue
		}

		for _, task := range tasks {
			meta := []string{fmt.Sprintf("priority=%d", task.Priority)}
			if task.DueAt != nil {
				meta = append(meta, fmt.Sprintf("due=%s", timeutil.FormatInZone(*task.DueAt, loc)))
			}
			if tags := tagList(task); tags != "" {
				meta = append(meta, fmt.Sprintf("tags=%s", tags))
			}
			lines = append(lines, fmt.Sprintf("- [%d] %s (%s)", task.ID, task.Title, strings.Join(meta, "; ")))
			if task.Description != "" {
				lines = append(lines, fmt.Sprintf("  - %s", task.Description))
			}
		}
		lines = append(lines, "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

// CSV renders every task on the board as one row, column order fixed by the
// header.
func CSV(tasks []db.Task, loc *time.Location) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"id", "title", "description", "priority", "status", "column", "due_at", "tags"}); err != nil {
		return "", err
	}

	for _, task := range tasks {
		due := ""
		if task.DueAt != nil {
			due = timeutil.FormatInZone(*task.DueAt, loc)
		}
		row := []string{
			strconv.FormatInt(task.ID, 10),
			task.Title,
			task.Description,
			strconv.Itoa(task.Priority),
			task.Status,
			task.ColumnName,
			due,
			strings.Join(sortedTagNames(task), ","),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedTagNames(task db.Task) []string {
	names := make([]string, 0, len(task.Tags))
	for _, tag := range task.Tags {
		names = append(names, tag.Name)
	}
	sort.Strings(names)
	return names
}

func tagList(task db.Task) string {
	return strings.Join(sortedTagNames(task), ", ")
}
