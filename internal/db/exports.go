package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LogExport records that an export file was generated for the user
func (r *Repository) LogExport(ctx context.Context, userID int64, format, fileName string) error {
	query := `
		INSERT INTO export_log (user_id, format, file_name)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.Pool().Exec(ctx, query, userID, format, fileName); err != nil {
		return fmt.Errorf("insert export log: %w", err)
	}

	r.logger.Info("export logged",
		zap.Int64("user_id", userID),
		zap.String("format", format),
		zap.String("file_name", fileName),
	)

	return nil
}
