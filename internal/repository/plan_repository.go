package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/faceswapbot/internal/models"
)

const planColumns = `id, code, title, COALESCE(description, ''), currency, price_minor_units, duration_days, is_active, created_at, updated_at`

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func scanPlan(row rowScanner) (*models.Plan, error) {
	var plan models.Plan
	if err := row.Scan(&plan.ID, &plan.Code, &plan.Title, &plan.Description, &plan.Currency, &plan.PriceMinorUnits, &plan.DurationDays, &plan.IsActive, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+planColumns+` FROM pricing_plans ORDER BY duration_days ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) getOne(ctx context.Context, where string, arg any) (*models.Plan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM pricing_plans WHERE `+where, arg)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *PlanRepository) GetByCode(ctx context.Context, code string) (*models.Plan, error) {
	return r.getOne(ctx, "code = ?", code)
}

func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	const query = `
INSERT INTO pricing_plans (code, title, description, currency, price_minor_units, duration_days, is_active)
VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, plan.Code, plan.Title, plan.Description, plan.Currency, plan.PriceMinorUnits, plan.DurationDays, plan.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("plan last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	const query = `
UPDATE pricing_plans
SET code = ?, title = ?, description = NULLIF(?, ''), currency = ?, price_minor_units = ?, duration_days = ?, is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, plan.Code, plan.Title, plan.Description, plan.Currency, plan.PriceMinorUnits, plan.DurationDays, plan.IsActive, plan.ID); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return r.GetByID(ctx, plan.ID)
}

func (r *PlanRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pricing_plans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}
