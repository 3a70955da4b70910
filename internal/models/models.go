package models

import "time"

type SwapKind string

const (
	SwapImage SwapKind = "image"
	SwapVideo SwapKind = "video"
)

type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHD       Quality = "hd"
)

// FailureKind classifies why a swap attempt did not produce a result.
type FailureKind string

const (
	FailureValidation          FailureKind = "validation_error"
	FailureQuotaExceeded       FailureKind = "quota_exceeded"
	FailureInvalidInput        FailureKind = "invalid_input"
	FailureUpstreamUnavailable FailureKind = "upstream_unavailable"
	FailureUpstreamError       FailureKind = "upstream_error"
	FailureUpstreamRateLimited FailureKind = "upstream_rate_limited"
	FailureAuth                FailureKind = "auth_error"
	FailurePersistence         FailureKind = "persistence_error"
	// FailureRequest means the request could not be built locally, for
	// example a malformed base URL.
	FailureRequest FailureKind = "request_error"
)

// Retryable reports whether another attempt against the upstream may succeed.
func (k FailureKind) Retryable() bool {
	return k == FailureUpstreamUnavailable || k == FailureUpstreamError
}

// NeedsOperator reports failures users cannot fix by retrying or changing
// their media.
func (k FailureKind) NeedsOperator() bool {
	return k == FailureAuth || k == FailureRequest
}

// DailyUsage holds per-day counters. Date is midnight UTC of the day they belong to.
type DailyUsage struct {
	Date       time.Time `json:"date" bson:"date"`
	ImageSwaps int       `json:"image_swaps" bson:"image_swaps"`
	VideoSwaps int       `json:"video_swaps" bson:"video_swaps"`
}

func (d DailyUsage) Count(kind SwapKind) int {
	if kind == SwapVideo {
		return d.VideoSwaps
	}
	return d.ImageSwaps
}

type User struct {
	ID            int64      `json:"id" bson:"id"`
	TelegramID    int64      `json:"telegram_id" bson:"telegram_id"`
	Username      string     `json:"username,omitempty" bson:"username,omitempty"`
	FirstName     string     `json:"first_name,omitempty" bson:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty" bson:"last_name,omitempty"`
	Premium       bool       `json:"premium" bson:"premium"`
	PremiumExpiry *time.Time `json:"premium_expiry,omitempty" bson:"premium_expiry,omitempty"`
	PremiumPlan   string     `json:"premium_plan,omitempty" bson:"premium_plan,omitempty"`
	DailyUsage    DailyUsage `json:"daily_usage" bson:"daily_usage"`
	TotalSwaps    int        `json:"total_swaps" bson:"total_swaps"`
	JoinDate      time.Time  `json:"join_date" bson:"join_date"`
	LastActive    time.Time  `json:"last_active" bson:"last_active"`
	Version       int64      `json:"version" bson:"version"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.PremiumExpiry != nil {
		exp := *u.PremiumExpiry
		c.PremiumExpiry = &exp
	}
	return &c
}

// Profile is the chat-side identity used to create or refresh a user record.
type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

type SwapLog struct {
	ID        int64
	UserID    int64
	Kind      SwapKind
	Quality   Quality
	CreatedAt time.Time
}

type Payment struct {
	ID             int64
	UserID         int64
	TelegramID     int64
	PlanID         *int64
	Provider       string
	ProviderCharge string
	Currency       string
	Amount         int
	Status         string
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Plan struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"price_minor_units"`
	DurationDays    int       `json:"duration_days"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}
