package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskdeck/internal/timeutil"
)

// CreateTaskParams carries everything needed to create a task. Now is the
// reference instant for the reminder derivation, supplied by the caller so
// task creation stays deterministic under test.
type CreateTaskParams struct {
	BoardID     int64
	Title       string
	Description string
	Priority    int
	DueAt       *time.Time
	TagNames    []string
	Now         time.Time
}

func clampPriority(priority int) int {
	if priority < 1 {
		return 1
	}
	if priority > 3 {
		return 3
	}
	return priority
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	err := row.Scan(
		&task.ID,
		&task.BoardID,
		&task.ColumnID,
		&task.Title,
		&task.Description,
		&task.Priority,
		&task.Status,
		&task.DueAt,
		&task.ReminderAt,
		&task.CompletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.ColumnName,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tasks, nil
}

// CreateTask inserts a task into the first non-done column of the board and
// derives its reminder instant from the due date
func (r *Repository) CreateTask(ctx context.Context, params CreateTaskParams) (*Task, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	columns, err := columnsTx(ctx, tx, params.BoardID)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("board %d has no columns", params.BoardID)
	}

	target := columns[0]
	for _, column := range columns {
		if !column.IsDone {
			target = column
			break
		}
	}

	task := Task{
		BoardID:     params.BoardID,
		ColumnID:    &target.ID,
		Title:       strings.TrimSpace(params.Title),
		Description: strings.TrimSpace(params.Description),
		Priority:    clampPriority(params.Priority),
		Status:      TaskStatusActive,
		DueAt:       params.DueAt,
		ReminderAt:  timeutil.NextReminderAt(params.DueAt, params.Now),
		ColumnName:  target.Name,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO tasks (board_id, column_id, title, description, priority, status, due_at, reminder_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, task.BoardID, task.ColumnID, task.Title, task.Description, task.Priority,
		task.Status, task.DueAt, task.ReminderAt,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	tags, err := upsertTagsTx(ctx, tx, params.BoardID, params.TagNames)
	if err != nil {
		return nil, err
	}
	if err = replaceTaskTagsTx(ctx, tx, task.ID, tags); err != nil {
		return nil, err
	}
	task.Tags = tags

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("task created",
		zap.Int64("task_id", task.ID),
		zap.Int64("board_id", task.BoardID),
		zap.String("column", target.Name),
	)

	return &task, nil
}

// GetTask loads one task with its tags and column name
func (r *Repository) GetTask(ctx context.Context, boardID, taskID int64) (*Task, error) {
	query := `
		SELECT t.id, t.board_id, t.column_id, t.title, t.description, t.priority,
		       t.status, t.due_at, t.reminder_at, t.completed_at, t.created_at,
		       t.updated_at, COALESCE(c.name, '')
		FROM tasks t
		LEFT JOIN columns c ON c.id = t.column_id
		WHERE t.board_id = $1 AND t.id = $2
	`

	task, err := scanTask(r.db.Pool().QueryRow(ctx, query, boardID, taskID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}

	tasks := []Task{*task}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}

	return &tasks[0], nil
}

// MoveTask places the task into the given column. Moving into the done
// column completes the task; moving anywhere else reactivates it.
func (r *Repository) MoveTask(ctx context.Context, boardID, taskID int64, column *Column, now time.Time) (*Task, error) {
	var result pgx.Row
	if column.IsDone {
		result = r.db.Pool().QueryRow(ctx, `
			UPDATE tasks
			SET column_id = $1, status = $2, completed_at = $3, updated_at = NOW()
			WHERE id = $4 AND board_id = $5
			RETURNING id
		`, column.ID, TaskStatusDone, now.UTC(), taskID, boardID)
	} else {
		result = r.db.Pool().QueryRow(ctx, `
			UPDATE tasks
			SET column_id = $1, status = $2, completed_at = NULL, updated_at = NOW()
			WHERE id = $3 AND board_id = $4
			RETURNING id
		`, column.ID, TaskStatusActive, taskID, boardID)
	}

	var id int64
	err := result.Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("move task: %w", err)
	}

	return r.GetTask(ctx, boardID, taskID)
}

// MarkTaskDone moves the task into the board's done column
func (r *Repository) MarkTaskDone(ctx context.Context, boardID, taskID int64, now time.Time) (*Task, error) {
	done, err := r.DoneColumn(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return r.MoveTask(ctx, boardID, taskID, done, now)
}

// PostponeTask pushes the due date forward by the given number of hours,
// starting from the current due date or from now for tasks without one,
// and re-derives the reminder instant
func (r *Repository) PostponeTask(ctx context.Context, boardID, taskID int64, hours int, now time.Time) (*Task, error) {
	task, err := r.GetTask(ctx, boardID, taskID)
	if err != nil {
		return nil, err
	}

	base := now.UTC()
	if task.DueAt != nil {
		base = task.DueAt.UTC()
	}
	due := base.Add(time.Duration(hours) * time.Hour)
	reminder := timeutil.NextReminderAt(&due, now)

	_, err = r.db.Pool().Exec(ctx, `
		UPDATE tasks
		SET due_at = $1, reminder_at = $2, updated_at = NOW()
		WHERE id = $3 AND board_id = $4
	`, due, reminder, taskID, boardID)
	if err != nil {
		return nil, fmt.Errorf("postpone task: %w", err)
	}

	task.DueAt = &due
	task.ReminderAt = reminder
	return task, nil
}

// EditTaskTitle renames a task
func (r *Repository) EditTaskTitle(ctx context.Context, boardID, taskID int64, newTitle string) (*Task, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks
		SET title = $1, updated_at = NOW()
		WHERE id = $2 AND board_id = $3
	`, strings.TrimSpace(newTitle), taskID, boardID)
	if err != nil {
		return nil, fmt.Errorf("edit task title: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	return r.GetTask(ctx, boardID, taskID)
}

// UpdateTaskDescription replaces a task's description
func (r *Repository) UpdateTaskDescription(ctx context.Context, boardID, taskID int64, description string) (*Task, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks
		SET description = $1, updated_at = NOW()
		WHERE id = $2 AND board_id = $3
	`, strings.TrimSpace(description), taskID, boardID)
	if err != nil {
		return nil, fmt.Errorf("update task description: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	return r.GetTask(ctx, boardID, taskID)
}

// UpdateTaskPriority sets a task's priority, clamped to the 1..3 range
func (r *Repository) UpdateTaskPriority(ctx context.Context, boardID, taskID int64, priority int) (*Task, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks
		SET priority = $1, updated_at = NOW()
		WHERE id = $2 AND board_id = $3
	`, clampPriority(priority), taskID, boardID)
	if err != nil {
		return nil, fmt.Errorf("update task priority: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	return r.GetTask(ctx, boardID, taskID)
}

// DeleteTask removes a task. Tag links go with it via cascade.
func (r *Repository) DeleteTask(ctx context.Context, boardID, taskID int64) error {
	result, err := r.db.Pool().Exec(ctx, `
		DELETE FROM tasks WHERE id = $1 AND board_id = $2
	`, taskID, boardID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("task deleted",
		zap.Int64("task_id", taskID),
		zap.Int64("board_id", boardID),
	)

	return nil
}

// SetTaskTags replaces the task's tag set, creating missing tags on the board
func (r *Repository) SetTaskTags(ctx context.Context, boardID, taskID int64, tagNames []string) (*Task, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM tasks WHERE id = $1 AND board_id = $2
	`, taskID, boardID).Scan(&exists)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}

	tags, err := upsertTagsTx(ctx, tx, boardID, tagNames)
	if err != nil {
		return nil, err
	}
	if err = replaceTaskTagsTx(ctx, tx, taskID, tags); err != nil {
		return nil, err
	}

	if _, err = tx.Exec(ctx, `UPDATE tasks SET updated_at = NOW() WHERE id = $1`, taskID); err != nil {
		return nil, fmt.Errorf("touch task: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return r.GetTask(ctx, boardID, taskID)
}

func upsertTagsTx(ctx context.Context, tx pgx.Tx, boardID int64, names []string) ([]Tag, error) {
	tags := make([]Tag, 0, len(names))
	for _, name := range names {
		var tag Tag
		// DO UPDATE instead of DO NOTHING so the row comes back either way
		err := tx.QueryRow(ctx, `
			INSERT INTO tags (board_id, name)
			VALUES ($1, $2)
			ON CONFLICT (board_id, name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id, board_id, name
		`, boardID, name).Scan(&tag.ID, &tag.BoardID, &tag.Name)
		if err != nil {
			return nil, fmt.Errorf("upsert tag %q: %w", name, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func replaceTaskTagsTx(ctx context.Context, tx pgx.Tx, taskID int64, tags []Tag) error {
	if _, err := tx.Exec(ctx, `DELETE FROM task_tags WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("clear task tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.Exec(ctx, `
			INSERT INTO task_tags (task_id, tag_id) VALUES ($1, $2)
		`, taskID, tag.ID); err != nil {
			return fmt.Errorf("link tag %q: %w", tag.Name, err)
		}
	}
	return nil
}

// attachTags loads tags for a batch of tasks in one query
func (r *Repository) attachTags(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(tasks))
	index := make(map[int64]int, len(tasks))
	for i := range tasks {
		ids = append(ids, tasks[i].ID)
		index[tasks[i].ID] = i
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT tt.task_id, tg.id, tg.board_id, tg.name
		FROM task_tags tt
		JOIN tags tg ON tg.id = tt.tag_id
		WHERE tt.task_id = ANY($1)
		ORDER BY tg.name ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("query task tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID int64
		var tag Tag
		if err := rows.Scan(&taskID, &tag.ID, &tag.BoardID, &tag.Name); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if i, ok := index[taskID]; ok {
			tasks[i].Tags = append(tasks[i].Tags, tag)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}

	return nil
}

// ListBoardTasks returns every task on the board ordered for display:
// highest priority first, then nearest due date, newest last within ties
func (r *Repository) ListBoardTasks(ctx context.Context, boardID int64) ([]Task, error) {
	query := `
		SELECT t.id, t.board_id, t.column_id, t.title, t.description, t.priority,
		       t.status, t.due_at, t.reminder_at, t.completed_at, t.created_at,
		       t.updated_at, COALESCE(c.name, '')
		FROM tasks t
		LEFT JOIN columns c ON c.id = t.column_id
		WHERE t.board_id = $1
		ORDER BY t.priority ASC, t.due_at ASC NULLS LAST, t.created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("query board tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

// TasksDueToday returns open tasks due inside the user's current local day
func (r *Repository) TasksDueToday(ctx context.Context, boardID int64, loc *time.Location, now time.Time) ([]Task, error) {
	start, end := timeutil.LocalDayBounds(now, loc)

	query := `
		SELECT t.id, t.board_id, t.column_id, t.title, t.description, t.priority,
		       t.status, t.due_at, t.reminder_at, t.completed_at, t.created_at,
		       t.updated_at, COALESCE(c.name, '')
		FROM tasks t
		LEFT JOIN columns c ON c.id = t.column_id
		WHERE t.board_id = $1
		  AND t.completed_at IS NULL
		  AND t.due_at IS NOT NULL
		  AND t.due_at >= $2
		  AND t.due_at < $3
		ORDER BY t.due_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, boardID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query today tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

// OverdueTasks returns open tasks whose due date fell before the user's
// current local day
func (r *Repository) OverdueTasks(ctx context.Context, boardID int64, loc *time.Location, now time.Time) ([]Task, error) {
	start, _ := timeutil.LocalDayBounds(now, loc)

	query := `
		SELECT t.id, t.board_id, t.column_id, t.title, t.description, t.priority,
		       t.status, t.due_at, t.reminder_at, t.completed_at, t.created_at,
		       t.updated_at, COALESCE(c.name, '')
		FROM tasks t
		LEFT JOIN columns c ON c.id = t.column_id
		WHERE t.board_id = $1
		  AND t.completed_at IS NULL
		  AND t.due_at IS NOT NULL
		  AND t.due_at < $2
		ORDER BY t.due_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, boardID, start)
	if err != nil {
		return nil, fmt.Errorf("query overdue tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

// SearchTasks matches the text against titles and descriptions,
// most recently touched first
func (r *Repository) SearchTasks(ctx context.Context, boardID int64, text string) ([]Task, error) {
	pattern := "%" + strings.TrimSpace(text) + "%"

	query := `
		SELECT t.id, t.board_id, t.column_id, t.title, t.description, t.priority,
		       t.status, t.due_at, t.reminder_at, t.completed_at, t.created_at,
		       t.updated_at, COALESCE(c.name, '')
		FROM tasks t
		LEFT JOIN columns c ON c.id = t.column_id
		WHERE t.board_id = $1
		  AND (t.title ILIKE $2 OR t.description ILIKE $2)
		ORDER BY t.updated_at DESC
		LIMIT 30
	`

	rows, err := r.db.Pool().Query(ctx, query, boardID, pattern)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

// TagStats counts tasks per tag on the board, busiest tags first
func (r *Repository) TagStats(ctx context.Context, boardID int64) ([]TagStat, error) {
	query := `
		SELECT tg.name, COUNT(tt.task_id)
		FROM tags tg
		JOIN task_tags tt ON tt.tag_id = tg.id
		WHERE tg.board_id = $1
		GROUP BY tg.name
		ORDER BY COUNT(tt.task_id) DESC, tg.name ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("query tag stats: %w", err)
	}
	defer rows.Close()

	var stats []TagStat
	for rows.Next() {
		var stat TagStat
		if err := rows.Scan(&stat.Name, &stat.Count); err != nil {
			return nil, fmt.Errorf("scan tag stat: %w", err)
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return stats, nil
}

// DueReminders returns open tasks whose reminder instant has arrived, each
// paired with the owning user, oldest reminder first
func (r *Repository) DueReminders(ctx context.Context, now time.Time) ([]ReminderCandidate, error) {
	query := `
		SELECT t.id, t.board_id, t.column_id, t.title, t.description, t.priority,
		       t.status, t.due_at, t.reminder_at, t.completed_at, t.created_at,
		       t.updated_at,
		       u.id, u.telegram_id, u.timezone, u.digest_enabled, u.created_at
		FROM tasks t
		JOIN boards b ON b.id = t.board_id
		JOIN users u ON u.id = b.owner_id
		WHERE t.completed_at IS NULL
		  AND t.reminder_at IS NOT NULL
		  AND t.reminder_at <= $1
		ORDER BY t.reminder_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var candidates []ReminderCandidate
	for rows.Next() {
		var c ReminderCandidate
		err := rows.Scan(
			&c.Task.ID,
			&c.Task.BoardID,
			&c.Task.ColumnID,
			&c.Task.Title,
			&c.Task.Description,
			&c.Task.Priority,
			&c.Task.Status,
			&c.Task.DueAt,
			&c.Task.ReminderAt,
			&c.Task.CompletedAt,
			&c.Task.CreatedAt,
			&c.Task.UpdatedAt,
			&c.User.ID,
			&c.User.TelegramID,
			&c.User.Timezone,
			&c.User.DigestEnabled,
			&c.User.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return candidates, nil
}
