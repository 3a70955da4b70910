package repository

import (
	"context"
	"errors"
	"time"

	"github.com/digkill/faceswapbot/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	// ErrNoChange returned from an update func leaves the stored record untouched.
	ErrNoChange = errors.New("no change")
	ErrConflict = errors.New("concurrent update conflict")
)

// UserStore persists one record per user. Update applies fn to a copy of the
// current record and stores the result as a single atomic replace; if fn
// returns an error nothing is written.
type UserStore interface {
	Ensure(ctx context.Context, profile models.Profile, now time.Time) (*models.User, bool, error)
	Get(ctx context.Context, telegramID int64) (*models.User, error)
	Update(ctx context.Context, telegramID int64, fn func(u *models.User) error) (*models.User, error)
	ListTelegramIDs(ctx context.Context) ([]int64, error)
	Ping(ctx context.Context) error
}

type PlanStore interface {
	List(ctx context.Context) ([]models.Plan, error)
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	GetByCode(ctx context.Context, code string) (*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Delete(ctx context.Context, id int64) error
}

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	UpdateStatus(ctx context.Context, paymentID int64, status string, payload string) error
	FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error)
}

type SwapLogStore interface {
	Log(ctx context.Context, entry models.SwapLog) error
	CountForDay(ctx context.Context, day time.Time) (int, error)
}

func newUser(p models.Profile, id int64, now time.Time) *models.User {
	now = now.UTC()
	return &models.User{
		ID:         id,
		TelegramID: p.TelegramID,
		Username:   p.Username,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		DailyUsage: models.DailyUsage{Date: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)},
		JoinDate:   now,
		LastActive: now,
	}
}

func applyProfile(u *models.User, p models.Profile, now time.Time) {
	u.Username = p.Username
	u.FirstName = p.FirstName
	u.LastName = p.LastName
	u.LastActive = now.UTC()
}
