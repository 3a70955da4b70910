package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/digkill/faceswapbot/internal/models"
)

// MemoryPlanStore backs plans when no SQL database is configured. Plans are
// reseeded from configuration on every start.
type MemoryPlanStore struct {
	mu     sync.RWMutex
	plans  map[int64]models.Plan
	nextID int64
}

func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{plans: make(map[int64]models.Plan)}
}

func (s *MemoryPlanStore) List(ctx context.Context) ([]models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plans := make([]models.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].DurationDays != plans[j].DurationDays {
			return plans[i].DurationDays < plans[j].DurationDays
		}
		return plans[i].ID < plans[j].ID
	})
	return plans, nil
}

func (s *MemoryPlanStore) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.plans[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *MemoryPlanStore) GetByCode(ctx context.Context, code string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *MemoryPlanStore) Create(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p := *plan
	p.ID = s.nextID
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	s.plans[p.ID] = p
	return &p, nil
}

func (s *MemoryPlanStore) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *plan
	p.UpdatedAt = time.Now().UTC()
	s.plans[p.ID] = p
	return &p, nil
}

func (s *MemoryPlanStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, id)
	return nil
}

type MemoryPaymentStore struct {
	mu       sync.Mutex
	payments []models.Payment
}

func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{}
}

func (s *MemoryPaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment.ID = int64(len(s.payments) + 1)
	payment.CreatedAt = time.Now().UTC()
	payment.UpdatedAt = payment.CreatedAt
	s.payments = append(s.payments, *payment)
	return nil
}

func (s *MemoryPaymentStore) UpdateStatus(ctx context.Context, paymentID int64, status string, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payments {
		if s.payments[i].ID == paymentID {
			s.payments[i].Status = status
			s.payments[i].RawPayload = payload
			s.payments[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (s *MemoryPaymentStore) FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Provider == provider && p.ProviderCharge == chargeID {
			return &p, nil
		}
	}
	return nil, nil
}

type MemorySwapLogStore struct {
	mu      sync.Mutex
	entries []models.SwapLog
}

func NewMemorySwapLogStore() *MemorySwapLogStore {
	return &MemorySwapLogStore{}
}

func (s *MemorySwapLogStore) Log(ctx context.Context, entry models.SwapLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.entries) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemorySwapLogStore) CountForDay(ctx context.Context, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	count := 0
	for _, e := range s.entries {
		if !e.CreatedAt.Before(start) && e.CreatedAt.Before(end) {
			count++
		}
	}
	return count, nil
}
