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
	"github.com/digkill/faceswapbot/pkg/logger"
)

// QuotaService owns every read-modify-write of a user's usage counters.
// Each call holds the user's key lock and runs one atomic store update, so
// Evaluate and Commit for the same user are linearizable.
type QuotaService struct {
	users repository.UserStore
	rules quota.Rules
	locks *keylock.Locker
	log   *slog.Logger
	now   func() time.Time
}

func NewQuotaService(users repository.UserStore, rules quota.Rules, locks *keylock.Locker, log *slog.Logger) *QuotaService {
	return &QuotaService{
		users: users,
		rules: rules,
		locks: locks,
		log:   log,
		now:   time.Now,
	}
}

// Ensure loads or creates the user for profile and persists any pending
// day rollover or premium expiry.
func (s *QuotaService) Ensure(ctx context.Context, profile models.Profile) (*models.User, bool, error) {
	unlock := s.locks.Lock(profile.TelegramID)
	defer unlock()

	now := s.now()
	user, created, err := s.users.Ensure(ctx, profile, now)
	if err != nil {
		return nil, false, &PersistenceError{Op: "ensure user", Err: err}
	}
	normalized := user.Clone()
	if !quota.Normalize(normalized, now) {
		return user, created, nil
	}
	user, err = s.users.Update(ctx, profile.TelegramID, func(u *models.User) error {
		if !quota.Normalize(u, now) {
			return repository.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, false, &PersistenceError{Op: "normalize user", Err: err}
	}
	return user, created, nil
}

// Evaluate checks whether one more swap of kind fits today's allowance.
// A denial is returned as *QuotaError alongside the decision.
func (s *QuotaService) Evaluate(ctx context.Context, telegramID int64, kind models.SwapKind) (quota.Decision, error) {
	unlock := s.locks.Lock(telegramID)
	defer unlock()

	now := s.now()
	var decision quota.Decision
	_, err := s.users.Update(ctx, telegramID, func(u *models.User) error {
		changed := quota.Normalize(u, now)
		decision = quota.Evaluate(u, kind, s.rules, now)
		if !changed {
			return repository.ErrNoChange
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return quota.Decision{}, err
		}
		return quota.Decision{}, &PersistenceError{Op: "evaluate quota", Err: err}
	}
	if !decision.Allowed {
		metrics.QuotaDenials.WithLabelValues(string(kind), string(decision.Entitlement.Tier)).Inc()
		return decision, &QuotaError{Kind: kind, Used: decision.Used, Limit: decision.Limit}
	}
	return decision, nil
}

// Commit charges one slot of kind. The limit is checked again inside the
// same atomic update so concurrent commits can never exceed it.
func (s *QuotaService) Commit(ctx context.Context, telegramID int64, kind models.SwapKind) (*models.User, quota.Decision, error) {
	unlock := s.locks.Lock(telegramID)
	defer unlock()

	now := s.now()
	var decision quota.Decision
	user, err := s.users.Update(ctx, telegramID, func(u *models.User) error {
		decision = quota.Consume(u, kind, s.rules, now)
		if !decision.Allowed {
			return &QuotaError{Kind: kind, Used: decision.Used, Limit: decision.Limit}
		}
		return nil
	})
	if err != nil {
		var qe *QuotaError
		if errors.As(err, &qe) {
			metrics.QuotaDenials.WithLabelValues(string(kind), string(decision.Entitlement.Tier)).Inc()
			return nil, decision, qe
		}
		s.log.Error("commit usage", "telegram_id", telegramID, "kind", kind, logger.Err(err))
		return nil, decision, &PersistenceError{Op: "commit usage", Err: err}
	}
	return user, decision, nil
}

// Status is a read-only view of a user's entitlement and today's usage.
type Status struct {
	User        *models.User
	Entitlement quota.Entitlement
	Image       quota.Decision
	Video       quota.Decision
}

func (s *QuotaService) Status(ctx context.Context, telegramID int64) (*Status, error) {
	user, err := s.users.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	now := s.now()
	quota.Normalize(user, now)
	return &Status{
		User:        user,
		Entitlement: s.rules.For(user),
		Image:       quota.Evaluate(user, models.SwapImage, s.rules, now),
		Video:       quota.Evaluate(user, models.SwapVideo, s.rules, now),
	}, nil
}

// EntitlementFor resolves limits from an already normalized record.
func (s *QuotaService) EntitlementFor(u *models.User) quota.Entitlement {
	return s.rules.For(u)
}
