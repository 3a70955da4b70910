// Package quota holds the entitlement rules: daily reset, premium expiry and
// per-kind limits. Functions here mutate the record passed in and never touch
// storage; callers run them inside an atomic store update.
package quota

import (
	"time"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/models"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Entitlement is the resolved set of limits applicable to a user right now.
type Entitlement struct {
	Tier    Tier
	Limits  config.Limits
	Quality models.Quality
}

func (e Entitlement) Limit(kind models.SwapKind) int {
	if kind == models.SwapVideo {
		return e.Limits.DailyVideoSwaps
	}
	return e.Limits.DailyImageSwaps
}

func (e Entitlement) Premium() bool {
	return e.Tier == TierPremium
}

type Rules struct {
	Free    config.Limits
	Premium config.Limits
}

func (r Rules) For(u *models.User) Entitlement {
	if u.Premium {
		return Entitlement{Tier: TierPremium, Limits: r.Premium, Quality: models.QualityHD}
	}
	return Entitlement{Tier: TierFree, Limits: r.Free, Quality: models.QualityStandard}
}

// Decision is the outcome of checking one quota slot.
type Decision struct {
	Allowed     bool
	Kind        models.SwapKind
	Used        int
	Limit       int
	Remaining   int
	Entitlement Entitlement
}

// Today truncates t to midnight UTC.
func Today(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Normalize advances the usage day and drops expired premium. It reports
// whether the record changed.
func Normalize(u *models.User, now time.Time) bool {
	today := Today(now)
	changed := false
	if !u.DailyUsage.Date.Equal(today) {
		u.DailyUsage = models.DailyUsage{Date: today}
		changed = true
	}
	if u.Premium && u.PremiumExpiry != nil && Today(*u.PremiumExpiry).Before(today) {
		u.Premium = false
		u.PremiumExpiry = nil
		u.PremiumPlan = ""
		changed = true
	}
	return changed
}

// Evaluate normalizes u and checks whether one more swap of kind fits.
func Evaluate(u *models.User, kind models.SwapKind, rules Rules, now time.Time) Decision {
	Normalize(u, now)
	ent := rules.For(u)
	used := u.DailyUsage.Count(kind)
	limit := ent.Limit(kind)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:     used < limit,
		Kind:        kind,
		Used:        used,
		Limit:       limit,
		Remaining:   remaining,
		Entitlement: ent,
	}
}

// Consume takes one slot of kind if the limit in effect allows it. The returned
// decision describes the state after the increment when Allowed is true and the
// unchanged state otherwise.
func Consume(u *models.User, kind models.SwapKind, rules Rules, now time.Time) Decision {
	d := Evaluate(u, kind, rules, now)
	if !d.Allowed {
		return d
	}
	if kind == models.SwapVideo {
		u.DailyUsage.VideoSwaps++
	} else {
		u.DailyUsage.ImageSwaps++
	}
	u.TotalSwaps++
	u.LastActive = now.UTC()
	d.Used++
	d.Remaining--
	return d
}

// Activate grants premium until today+duration. An expiry already further out
// is kept so an early renewal never shortens the subscription.
func Activate(u *models.User, plan string, duration time.Duration, now time.Time) {
	Normalize(u, now)
	expiry := Today(now).Add(duration)
	if u.Premium && u.PremiumExpiry != nil && u.PremiumExpiry.After(expiry) {
		expiry = *u.PremiumExpiry
	}
	u.Premium = true
	u.PremiumExpiry = &expiry
	u.PremiumPlan = plan
}
