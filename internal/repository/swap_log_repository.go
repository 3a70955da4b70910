package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/faceswapbot/internal/models"
)

// SwapLogRepository is the append-only history of committed swaps.
type SwapLogRepository struct {
	db *sql.DB
}

func NewSwapLogRepository(db *sql.DB) *SwapLogRepository {
	return &SwapLogRepository{db: db}
}

func (r *SwapLogRepository) Log(ctx context.Context, entry models.SwapLog) error {
	const query = `INSERT INTO swap_logs (user_id, kind, quality) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, entry.UserID, entry.Kind, entry.Quality); err != nil {
		return fmt.Errorf("insert swap log: %w", err)
	}
	return nil
}

func (r *SwapLogRepository) CountForDay(ctx context.Context, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	const query = `SELECT COUNT(*) FROM swap_logs WHERE created_at >= ? AND created_at < ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("count daily swaps: %w", err)
	}
	return count, nil
}
