package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/faceswapbot/internal/models"
)

const userColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
premium, premium_expiry, COALESCE(premium_plan, ''), usage_date, image_swaps, video_swaps, total_swaps,
join_date, last_active, version`

type rowScanner interface {
	Scan(dest ...any) error
}

// UserRepository is the MySQL UserStore. Updates lock the row with
// SELECT ... FOR UPDATE so the read-modify-write runs as one transaction.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var expiry sql.NullTime
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.Premium, &expiry, &u.PremiumPlan, &u.DailyUsage.Date, &u.DailyUsage.ImageSwaps, &u.DailyUsage.VideoSwaps, &u.TotalSwaps,
		&u.JoinDate, &u.LastActive, &u.Version); err != nil {
		return nil, err
	}
	if expiry.Valid {
		exp := expiry.Time.UTC()
		u.PremiumExpiry = &exp
	}
	u.DailyUsage.Date = u.DailyUsage.Date.UTC()
	return &u, nil
}

func (r *UserRepository) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (telegram_id, username, first_name, last_name, premium, usage_date, image_swaps, video_swaps, total_swaps, join_date, last_active, version)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), 0, ?, 0, 0, 0, ?, ?, 0)`
	res, err := r.db.ExecContext(ctx, query, user.TelegramID, user.Username, user.FirstName, user.LastName,
		user.DailyUsage.Date, user.JoinDate, user.LastActive)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	user.ID = id
	return user, nil
}

// Ensure returns the user for the profile, creating it on first contact.
func (r *UserRepository) Ensure(ctx context.Context, profile models.Profile, now time.Time) (*models.User, bool, error) {
	user, err := r.Update(ctx, profile.TelegramID, func(u *models.User) error {
		applyProfile(u, profile, now)
		return nil
	})
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}
	created, err := r.create(ctx, newUser(profile, 0, now))
	if err != nil {
		// Lost a race with a concurrent first contact; the row exists now.
		if existing, getErr := r.Get(ctx, profile.TelegramID); getErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

func (r *UserRepository) Update(ctx context.Context, telegramID int64, fn func(u *models.User) error) (*models.User, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ? FOR UPDATE`, telegramID)
	current, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		return nil, err
	}
	next.Version = current.Version + 1

	var expiry sql.NullTime
	if next.PremiumExpiry != nil {
		expiry = sql.NullTime{Time: *next.PremiumExpiry, Valid: true}
	}
	const query = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), last_name = NULLIF(?, ''),
premium = ?, premium_expiry = ?, premium_plan = NULLIF(?, ''), usage_date = ?, image_swaps = ?, video_swaps = ?,
total_swaps = ?, last_active = ?, version = ?
WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, next.Username, next.FirstName, next.LastName,
		next.Premium, expiry, next.PremiumPlan, next.DailyUsage.Date, next.DailyUsage.ImageSwaps, next.DailyUsage.VideoSwaps,
		next.TotalSwaps, next.LastActive, next.Version, next.ID); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit user tx: %w", err)
	}
	return next, nil
}

func (r *UserRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT telegram_id FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
