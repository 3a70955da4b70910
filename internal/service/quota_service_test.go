package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/quota"
)

func TestEvaluateDeniedAtLimit(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, func(u *models.User) { u.DailyUsage.ImageSwaps = 3 })

	d, err := f.quota.Evaluate(context.Background(), 1, models.SwapImage)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, models.FailureQuotaExceeded, FailureOf(err))

	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 3, qe.Used)
	assert.Equal(t, 3, qe.Limit)
	assert.False(t, d.Allowed)

	u := f.user(t, 1)
	assert.Equal(t, 3, u.DailyUsage.ImageSwaps)
	assert.Zero(t, u.TotalSwaps)
}

func TestEvaluateAllowedReportsRemaining(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, func(u *models.User) { u.DailyUsage.ImageSwaps = 1 })

	d, err := f.quota.Evaluate(context.Background(), 1, models.SwapImage)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestEvaluatePersistsDayRollover(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, func(u *models.User) {
		u.DailyUsage = models.DailyUsage{Date: quota.Today(time.Now()).AddDate(0, 0, -1), ImageSwaps: 3, VideoSwaps: 1}
	})

	d, err := f.quota.Evaluate(context.Background(), 1, models.SwapVideo)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	u := f.user(t, 1)
	assert.Equal(t, quota.Today(time.Now()), u.DailyUsage.Date)
	assert.Zero(t, u.DailyUsage.ImageSwaps)
	assert.Zero(t, u.DailyUsage.VideoSwaps)

	// A second read on the same day writes nothing.
	version := u.Version
	_, err = f.quota.Evaluate(context.Background(), 1, models.SwapVideo)
	require.NoError(t, err)
	assert.Equal(t, version, f.user(t, 1).Version)
}

func TestEvaluateDowngradesExpiredPremium(t *testing.T) {
	f := newFixture(t)
	yesterday := quota.Today(time.Now()).AddDate(0, 0, -1)
	f.addUser(t, 1, func(u *models.User) {
		u.Premium = true
		u.PremiumExpiry = &yesterday
		u.PremiumPlan = "week"
		u.DailyUsage.ImageSwaps = 3
	})

	d, err := f.quota.Evaluate(context.Background(), 1, models.SwapImage)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, quota.TierFree, d.Entitlement.Tier)

	u := f.user(t, 1)
	assert.False(t, u.Premium)
	assert.Nil(t, u.PremiumExpiry)
}

func TestCommitIncrementsCounters(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, nil)

	u, d, err := f.quota.Commit(context.Background(), 1, models.SwapVideo)
	require.NoError(t, err)
	assert.Equal(t, 1, u.DailyUsage.VideoSwaps)
	assert.Equal(t, 1, u.TotalSwaps)
	assert.Zero(t, d.Remaining)

	_, _, err = f.quota.Commit(context.Background(), 1, models.SwapVideo)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, f.user(t, 1).TotalSwaps)
}

func TestConcurrentCommitsNeverExceedLimit(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, nil)

	var granted, denied atomic.Int32
	concurrently(20, func(int) {
		_, _, err := f.quota.Commit(context.Background(), 1, models.SwapImage)
		switch {
		case err == nil:
			granted.Add(1)
		case errors.Is(err, ErrQuotaExceeded):
			denied.Add(1)
		default:
			t.Errorf("unexpected error: %v", err)
		}
	})

	assert.Equal(t, int32(3), granted.Load())
	assert.Equal(t, int32(17), denied.Load())
	u := f.user(t, 1)
	assert.Equal(t, 3, u.DailyUsage.ImageSwaps)
	assert.Equal(t, 3, u.TotalSwaps)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, func(u *models.User) { u.DailyUsage.ImageSwaps = 2 })

	st, err := f.quota.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, quota.TierFree, st.Entitlement.Tier)
	assert.Equal(t, 2, st.Image.Used)
	assert.Equal(t, 1, st.Image.Remaining)
	assert.Equal(t, 1, st.Video.Remaining)
}

func TestActivatePremium(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, func(u *models.User) { u.DailyUsage.ImageSwaps = 3 })

	u, err := f.subscriptions.ActivatePremium(context.Background(), 1, "week", 7*24*time.Hour, "admin")
	require.NoError(t, err)
	assert.True(t, u.Premium)
	assert.Equal(t, "week", u.PremiumPlan)
	require.NotNil(t, u.PremiumExpiry)
	assert.Equal(t, quota.Today(time.Now()).AddDate(0, 0, 7), *u.PremiumExpiry)

	d, err := f.quota.Evaluate(context.Background(), 1, models.SwapImage)
	require.NoError(t, err)
	assert.Equal(t, quota.TierPremium, d.Entitlement.Tier)
	assert.Equal(t, models.QualityHD, d.Entitlement.Quality)
}

func TestActivatePremiumRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.subscriptions.ActivatePremium(context.Background(), 1, "week", 0, "admin")
	assert.Error(t, err)

	_, err = f.subscriptions.ActivatePremium(context.Background(), 404, "week", time.Hour, "admin")
	assert.Error(t, err)
}
