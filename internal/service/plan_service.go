package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/repository"
)

type PlanService struct {
	cfg  config.Config
	repo repository.PlanStore
}

type CreatePlanInput struct {
	Code            string
	Title           string
	Description     string
	Currency        string
	PriceMinorUnits int
	DurationDays    int
	IsActive        *bool
}

type UpdatePlanInput struct {
	Title           *string
	Description     *string
	Currency        *string
	PriceMinorUnits *int
	DurationDays    *int
	IsActive        *bool
}

func NewPlanService(cfg config.Config, repo repository.PlanStore) *PlanService {
	return &PlanService{cfg: cfg, repo: repo}
}

// EnsureDefaultPlans creates every configured plan whose code is not stored yet.
func (s *PlanService) EnsureDefaultPlans(ctx context.Context) error {
	for _, spec := range s.cfg.PremiumPlans {
		existing, err := s.repo.GetByCode(ctx, spec.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		plan := &models.Plan{
			Code:            spec.Code,
			Title:           spec.Title,
			Description:     fmt.Sprintf("Premium for %d days: higher daily limits and HD quality", spec.DurationDays),
			Currency:        s.cfg.PaymentCurrency,
			PriceMinorUnits: spec.PriceMinorUnits,
			DurationDays:    spec.DurationDays,
			IsActive:        true,
		}
		if _, err := s.repo.Create(ctx, plan); err != nil {
			return fmt.Errorf("create plan %s: %w", spec.Code, err)
		}
	}
	return nil
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	return s.repo.List(ctx)
}

// ListActive returns the plans offered to users.
func (s *PlanService) ListActive(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	active := plans[:0]
	for _, p := range plans {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *PlanService) Create(ctx context.Context, input CreatePlanInput) (*models.Plan, error) {
	input.Code = strings.TrimSpace(strings.ToLower(input.Code))
	if input.Code == "" {
		return nil, fmt.Errorf("code is required")
	}
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if input.Currency == "" {
		input.Currency = s.cfg.PaymentCurrency
	}
	if input.PriceMinorUnits <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	if input.DurationDays <= 0 {
		return nil, fmt.Errorf("duration_days must be positive")
	}
	existing, err := s.repo.GetByCode(ctx, input.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("plan %q already exists", input.Code)
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	plan := models.Plan{
		Code:            input.Code,
		Title:           input.Title,
		Description:     input.Description,
		Currency:        input.Currency,
		PriceMinorUnits: input.PriceMinorUnits,
		DurationDays:    input.DurationDays,
		IsActive:        isActive,
	}
	return s.repo.Create(ctx, &plan)
}

func (s *PlanService) Update(ctx context.Context, id int64, input UpdatePlanInput) (*models.Plan, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPlanNotFound
	}
	if input.Title != nil {
		existing.Title = *input.Title
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.DurationDays != nil && *input.DurationDays > 0 {
		existing.DurationDays = *input.DurationDays
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

func (s *PlanService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *PlanService) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *PlanService) GetByCode(ctx context.Context, code string) (*models.Plan, error) {
	return s.repo.GetByCode(ctx, code)
}
