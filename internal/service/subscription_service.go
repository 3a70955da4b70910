package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/faceswapbot/internal/keylock"
	"github.com/digkill/faceswapbot/internal/metrics"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/quota"
	"github.com/digkill/faceswapbot/internal/repository"
)

// SubscriptionService grants premium after a payment has been confirmed
// elsewhere. It does no payment verification itself.
type SubscriptionService struct {
	users repository.UserStore
	locks *keylock.Locker
	log   *slog.Logger
	now   func() time.Time
}

func NewSubscriptionService(users repository.UserStore, locks *keylock.Locker, log *slog.Logger) *SubscriptionService {
	return &SubscriptionService{users: users, locks: locks, log: log, now: time.Now}
}

// ActivatePremium sets premium until today+duration. source labels the
// activation in metrics (payment provider or "admin").
func (s *SubscriptionService) ActivatePremium(ctx context.Context, telegramID int64, plan string, duration time.Duration, source string) (*models.User, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("premium duration must be positive")
	}
	unlock := s.locks.Lock(telegramID)
	defer unlock()

	user, err := s.users.Update(ctx, telegramID, func(u *models.User) error {
		quota.Activate(u, plan, duration, s.now())
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "activate premium", Err: err}
	}
	metrics.PremiumActivations.WithLabelValues(source).Inc()
	s.log.Info("premium activated", "telegram_id", telegramID, "plan", plan, "expiry", user.PremiumExpiry, "source", source)
	return user, nil
}
