package export

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/lalithlochan/taskdeck/internal/db"
)

func int64ptr(v int64) *int64 { return &v }

func testBoard() ([]db.Column, []db.Task) {
	columns := []db.Column{
		{ID: 1, Name: "Inbox", Position: 0},
		{ID: 2, Name: "Done", Position: 1, IsDone: true},
	}
	due := time.Date(2026, 2, 20, 15, 4, 0, 0, time.UTC)
	tasks := []db.Task{
		{
			ID:          12,
			ColumnID:    int64ptr(1),
			ColumnName:  "Inbox",
			Title:       "buy milk",
			Description: "two liters",
			Priority:    2,
			Status:      db.TaskStatusActive,
			DueAt:       &due,
			Tags:        []db.Tag{{Name: "home"}, {Name: "errands"}},
		},
		{
			ID:         13,
			ColumnID:   int64ptr(1),
			ColumnName: "Inbox",
			Title:      "call bank",
			Priority:   1,
			Status:     db.TaskStatusActive,
		},
	}
	return columns, tasks
}

func TestMarkdownGroupsByColumn(t *testing.T) {
	columns, tasks := testBoard()
	md := Markdown(columns, GroupByColumn(columns, tasks), time.UTC)

	if !strings.HasPrefix(md, "# Task export\n") {
		t.Errorf("missing header: %q", md[:40])
	}
	if !strings.Contains(md, "## Inbox") || !strings.Contains(md, "## Done") {
		t.Errorf("missing column sections:\n%s", md)
	}
	if !strings.Contains(md, "- [12] buy milk (priority=2; due=20.02.2026 15:04; tags=errands, home)") {
		t.Errorf("task line wrong:\n%s", md)
	}
	if !strings.Contains(md, "  - two liters") {
		t.Errorf("missing description subline:\n%s", md)
	}
	// empty column renders a placeholder, not nothing
	if !strings.Contains(md, "- _(empty)_") {
		t.Errorf("missing empty-column placeholder:\n%s", md)
	}
	if !strings.HasSuffix(md, "\n") {
		t.Error("document must end with a newline")
	}
}

func TestMarkdownOmitsEmptyMeta(t *testing.T) {
	columns, tasks := testBoard()
	md := Markdown(columns, GroupByColumn(columns, tasks), time.UTC)

	// task 13 has no due and no tags: only priority in the meta block
	if !strings.Contains(md, "- [13] call bank (priority=1)") {
		t.Errorf("task without due/tags rendered wrong:\n%s", md)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	_, tasks := testBoard()
	out, err := CSV(tasks, time.UTC)
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse rendered csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2 rows", len(records))
	}

	header := strings.Join(records[0], ",")
	if header != "id,title,description,priority,status,column,due_at,tags" {
		t.Errorf("header = %q", header)
	}
	first := records[1]
	if first[0] != "12" || first[1] != "buy milk" || first[6] != "20.02.2026 15:04" {
		t.Errorf("row = %v", first)
	}
	if first[7] != "errands,home" {
		t.Errorf("tags cell = %q, want sorted comma join", first[7])
	}
	second := records[2]
	if second[6] != "" {
		t.Errorf("empty due rendered as %q", second[6])
	}
}

func TestGroupByColumnSkipsOrphans(t *testing.T) {
	columns := []db.Column{{ID: 1, Name: "Inbox"}}
	tasks := []db.Task{
		{ID: 1, ColumnID: int64ptr(1), Title: "kept"},
		{ID: 2, ColumnID: nil, Title: "orphan"},
	}

	grouped := GroupByColumn(columns, tasks)
	if len(grouped[1]) != 1 || grouped[1][0].ID != 1 {
		t.Errorf("grouped = %v", grouped)
	}
}

func TestBuildNamesThePair(t *testing.T) {
	columns, tasks := testBoard()
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

	payload, err := Build(columns, tasks, time.UTC, now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !strings.HasPrefix(payload.MarkdownName, "tasks-20260220-") || !strings.HasSuffix(payload.MarkdownName, ".md") {
		t.Errorf("markdown name = %q", payload.MarkdownName)
	}
	if !strings.HasPrefix(payload.CSVName, "tasks-20260220-") || !strings.HasSuffix(payload.CSVName, ".csv") {
		t.Errorf("csv name = %q", payload.CSVName)
	}

	mdID := strings.TrimSuffix(strings.TrimPrefix(payload.MarkdownName, "tasks-20260220-"), ".md")
	csvID := strings.TrimSuffix(strings.TrimPrefix(payload.CSVName, "tasks-20260220-"), ".csv")
	if mdID != csvID {
		t.Errorf("pair ids differ: %q vs %q", mdID, csvID)
	}
	if len(payload.Markdown) == 0 || len(payload.CSV) == 0 {
		t.Error("empty rendered documents")
	}
}
