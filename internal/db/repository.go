package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Sentinel errors surfaced to callers that need to branch on them
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")
	ErrLastColumn     = errors.New("cannot delete the last column")
)

// Repository handles all database operations for boards, tasks, users and
// the notification ledger
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// isUniqueViolation reports whether err is a postgres unique-constraint
// violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var defaultColumns = []struct {
	name   string
	isDone bool
}{
	{"Inbox", false},
	{"Todo", false},
	{"Doing", false},
	{"Done", true},
}

// GetUserByTelegramID returns the user mapped to a Telegram account
func (r *Repository) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	query := `
		SELECT id, telegram_id, timezone, digest_enabled, created_at
		FROM users
		WHERE telegram_id = $1
	`

	var user User
	err := r.db.Pool().QueryRow(ctx, query, telegramID).Scan(
		&user.ID,
		&user.TelegramID,
		&user.Timezone,
		&user.DigestEnabled,
		&user.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// UpdateUserTimezone stores a validated IANA timezone name for the user
func (r *Repository) UpdateUserTimezone(ctx context.Context, userID int64, timezone string) error {
	query := `UPDATE users SET timezone = $1 WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, timezone, userID)
	if err != nil {
		return fmt.Errorf("update user timezone: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SetDigestEnabled toggles daily digest membership for the user
func (r *Repository) SetDigestEnabled(ctx context.Context, userID int64, enabled bool) error {
	query := `UPDATE users SET digest_enabled = $1 WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, enabled, userID)
	if err != nil {
		return fmt.Errorf("update digest flag: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// DigestUsers returns every user subscribed to the daily digest
func (r *Repository) DigestUsers(ctx context.Context) ([]User, error) {
	query := `
		SELECT id, telegram_id, timezone, digest_enabled, created_at
		FROM users
		WHERE digest_enabled = TRUE
		ORDER BY id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query digest users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		err := rows.Scan(
			&user.ID,
			&user.TelegramID,
			&user.Timezone,
			&user.DigestEnabled,
			&user.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}

// BoardForUser returns the user's board, or nil when none exists yet.
// Scheduler scans treat a missing board as "nothing to report".
func (r *Repository) BoardForUser(ctx context.Context, userID int64) (*Board, error) {
	query := `
		SELECT id, owner_id, name, created_at
		FROM boards
		WHERE owner_id = $1
	`

	var board Board
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&board.ID,
		&board.OwnerID,
		&board.Name,
		&board.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query board: %w", err)
	}

	return &board, nil
}

// Bootstrap makes sure the Telegram account has a user row, a board and the
// default column set, creating whatever is missing in one transaction.
// The returned flag is true when the user row was created by this call.
func (r *Repository) Bootstrap(ctx context.Context, telegramID int64, defaultTimezone string) (*User, *Board, []Column, bool, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := false

	var user User
	err = tx.QueryRow(ctx, `
		SELECT id, telegram_id, timezone, digest_enabled, created_at
		FROM users
		WHERE telegram_id = $1
	`, telegramID).Scan(&user.ID, &user.TelegramID, &user.Timezone, &user.DigestEnabled, &user.CreatedAt)

	if err == pgx.ErrNoRows {
		err = tx.QueryRow(ctx, `
			INSERT INTO users (telegram_id, timezone)
			VALUES ($1, $2)
			RETURNING id, telegram_id, timezone, digest_enabled, created_at
		`, telegramID, defaultTimezone).Scan(&user.ID, &user.TelegramID, &user.Timezone, &user.DigestEnabled, &user.CreatedAt)
		created = true
	}
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("ensure user: %w", err)
	}

	var board Board
	err = tx.QueryRow(ctx, `
		SELECT id, owner_id, name, created_at
		FROM boards
		WHERE owner_id = $1
	`, user.ID).Scan(&board.ID, &board.OwnerID, &board.Name, &board.CreatedAt)

	if err == pgx.ErrNoRows {
		err = tx.QueryRow(ctx, `
			INSERT INTO boards (owner_id)
			VALUES ($1)
			RETURNING id, owner_id, name, created_at
		`, user.ID).Scan(&board.ID, &board.OwnerID, &board.Name, &board.CreatedAt)
	}
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("ensure board: %w", err)
	}

	columns, err := columnsTx(ctx, tx, board.ID)
	if err != nil {
		return nil, nil, nil, false, err
	}

	if len(columns) == 0 {
		for position, def := range defaultColumns {
			_, err = tx.Exec(ctx, `
				INSERT INTO columns (board_id, name, position, is_done)
				VALUES ($1, $2, $3, $4)
			`, board.ID, def.name, position, def.isDone)
			if err != nil {
				return nil, nil, nil, false, fmt.Errorf("insert default column: %w", err)
			}
		}

		columns, err = columnsTx(ctx, tx, board.ID)
		if err != nil {
			return nil, nil, nil, false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	if created {
		r.logger.Info("user bootstrapped",
			zap.Int64("user_id", user.ID),
			zap.Int64("telegram_id", telegramID),
			zap.Int64("board_id", board.ID),
		)
	}

	return &user, &board, columns, created, nil
}

// columnsTx lists board columns inside a transaction
func columnsTx(ctx context.Context, tx pgx.Tx, boardID int64) ([]Column, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, board_id, name, position, is_done
		FROM columns
		WHERE board_id = $1
		ORDER BY position ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	return collectColumns(rows)
}

func collectColumns(rows pgx.Rows) ([]Column, error) {
	var columns []Column
	for rows.Next() {
		var column Column
		err := rows.Scan(
			&column.ID,
			&column.BoardID,
			&column.Name,
			&column.Position,
			&column.IsDone,
		)
		if err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, column)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return columns, nil
}

// Columns lists board columns ordered by position
func (r *Repository) Columns(ctx context.Context, boardID int64) ([]Column, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, board_id, name, position, is_done
		FROM columns
		WHERE board_id = $1
		ORDER BY position ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	return collectColumns(rows)
}

// DoneColumn returns the board's done column. A board that lost its done
// column (all columns renamed or deleted around) gets its last column
// promoted so /done always has a target.
func (r *Repository) DoneColumn(ctx context.Context, boardID int64) (*Column, error) {
	columns, err := r.Columns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, ErrNotFound
	}

	for i := range columns {
		if columns[i].IsDone {
			return &columns[i], nil
		}
	}

	fallback := columns[len(columns)-1]
	_, err = r.db.Pool().Exec(ctx, `
		UPDATE columns SET is_done = TRUE WHERE id = $1
	`, fallback.ID)
	if err != nil {
		return nil, fmt.Errorf("promote done column: %w", err)
	}
	fallback.IsDone = true

	r.logger.Info("promoted column to done",
		zap.Int64("board_id", boardID),
		zap.Int64("column_id", fallback.ID),
	)

	return &fallback, nil
}

// CreateColumn appends a new column after the current last position
func (r *Repository) CreateColumn(ctx context.Context, boardID int64, name string) (*Column, error) {
	query := `
		INSERT INTO columns (board_id, name, position, is_done)
		VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM columns WHERE board_id = $1),
			FALSE
		)
		RETURNING id, board_id, name, position, is_done
	`

	var column Column
	err := r.db.Pool().QueryRow(ctx, query, boardID, strings.TrimSpace(name)).Scan(
		&column.ID,
		&column.BoardID,
		&column.Name,
		&column.Position,
		&column.IsDone,
	)
	if err != nil {
		return nil, fmt.Errorf("insert column: %w", err)
	}

	r.logger.Info("column created",
		zap.Int64("board_id", boardID),
		zap.Int64("column_id", column.ID),
		zap.String("name", column.Name),
	)

	return &column, nil
}

// RenameColumn changes a column's name
func (r *Repository) RenameColumn(ctx context.Context, boardID, columnID int64, newName string) (*Column, error) {
	query := `
		UPDATE columns
		SET name = $1
		WHERE id = $2 AND board_id = $3
		RETURNING id, board_id, name, position, is_done
	`

	var column Column
	err := r.db.Pool().QueryRow(ctx, query, strings.TrimSpace(newName), columnID, boardID).Scan(
		&column.ID,
		&column.BoardID,
		&column.Name,
		&column.Position,
		&column.IsDone,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("rename column: %w", err)
	}

	return &column, nil
}

// ReorderColumn moves a column to a new position and compacts the rest.
// Positions are rewritten in two passes through a shifted range so the
// UNIQUE(board_id, position) constraint never trips mid-update.
func (r *Repository) ReorderColumn(ctx context.Context, boardID, columnID int64, newPosition int) ([]Column, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	columns, err := columnsTx(ctx, tx, boardID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, column := range columns {
		if column.ID == columnID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrNotFound
	}

	moved := columns[idx]
	columns = append(columns[:idx], columns[idx+1:]...)

	target := newPosition
	if target < 0 {
		target = 0
	}
	if target > len(columns) {
		target = len(columns)
	}
	columns = append(columns[:target], append([]Column{moved}, columns[target:]...)...)

	for i, column := range columns {
		if _, err = tx.Exec(ctx, `UPDATE columns SET position = $1 WHERE id = $2`, 1000+i, column.ID); err != nil {
			return nil, fmt.Errorf("shift column position: %w", err)
		}
	}
	for i := range columns {
		if _, err = tx.Exec(ctx, `UPDATE columns SET position = $1 WHERE id = $2`, i, columns[i].ID); err != nil {
			return nil, fmt.Errorf("set column position: %w", err)
		}
		columns[i].Position = i
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return columns, nil
}

// DeleteColumn removes a column and moves its tasks to the first remaining
// column. Tasks inherit the fallback's done-ness: landing in a done column
// completes them, landing anywhere else reactivates them.
func (r *Repository) DeleteColumn(ctx context.Context, boardID, columnID int64) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	columns, err := columnsTx(ctx, tx, boardID)
	if err != nil {
		return err
	}
	if len(columns) <= 1 {
		return ErrLastColumn
	}

	var target *Column
	var fallback *Column
	for i := range columns {
		if columns[i].ID == columnID {
			target = &columns[i]
		} else if fallback == nil {
			fallback = &columns[i]
		}
	}
	if target == nil {
		return ErrNotFound
	}

	if fallback.IsDone {
		_, err = tx.Exec(ctx, `
			UPDATE tasks
			SET column_id = $1, status = $2, completed_at = NOW(), updated_at = NOW()
			WHERE column_id = $3
		`, fallback.ID, TaskStatusDone, columnID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE tasks
			SET column_id = $1, status = $2, completed_at = NULL, updated_at = NOW()
			WHERE column_id = $3
		`, fallback.ID, TaskStatusActive, columnID)
	}
	if err != nil {
		return fmt.Errorf("retarget tasks: %w", err)
	}

	if target.IsDone && !fallback.IsDone {
		if _, err = tx.Exec(ctx, `UPDATE columns SET is_done = TRUE WHERE id = $1`, fallback.ID); err != nil {
			return fmt.Errorf("promote done column: %w", err)
		}
	}

	if _, err = tx.Exec(ctx, `DELETE FROM columns WHERE id = $1`, columnID); err != nil {
		return fmt.Errorf("delete column: %w", err)
	}

	remaining, err := columnsTx(ctx, tx, boardID)
	if err != nil {
		return err
	}
	for i, column := range remaining {
		if _, err = tx.Exec(ctx, `UPDATE columns SET position = $1 WHERE id = $2`, 1000+i, column.ID); err != nil {
			return fmt.Errorf("shift column position: %w", err)
		}
	}
	for i, column := range remaining {
		if _, err = tx.Exec(ctx, `UPDATE columns SET position = $1 WHERE id = $2`, i, column.ID); err != nil {
			return fmt.Errorf("set column position: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("column deleted",
		zap.Int64("board_id", boardID),
		zap.Int64("column_id", columnID),
		zap.Int64("fallback_column_id", fallback.ID),
	)

	return nil
}

// ResolveColumn finds a column by numeric id or, failing that, by
// case-insensitive name
func (r *Repository) ResolveColumn(ctx context.Context, boardID int64, token string) (*Column, error) {
	token = strings.TrimSpace(token)

	if id, err := strconv.ParseInt(token, 10, 64); err == nil {
		var column Column
		err := r.db.Pool().QueryRow(ctx, `
			SELECT id, board_id, name, position, is_done
			FROM columns
			WHERE board_id = $1 AND id = $2
		`, boardID, id).Scan(&column.ID, &column.BoardID, &column.Name, &column.Position, &column.IsDone)
		if err == nil {
			return &column, nil
		}
		if err != pgx.ErrNoRows {
			return nil, fmt.Errorf("query column: %w", err)
		}
	}

	var column Column
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, board_id, name, position, is_done
		FROM columns
		WHERE board_id = $1 AND LOWER(name) = LOWER($2)
	`, boardID, token).Scan(&column.ID, &column.BoardID, &column.Name, &column.Position, &column.IsDone)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("query column: %w", err)
	}

	return &column, nil
}
