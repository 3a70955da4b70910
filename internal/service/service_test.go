package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/keylock"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/quota"
	"github.com/digkill/faceswapbot/internal/repository"
)

var testRules = quota.Rules{
	Free:    config.Limits{DailyImageSwaps: 3, DailyVideoSwaps: 1, MaxFileSize: 20 << 20, MaxVideoDuration: 30 * time.Second},
	Premium: config.Limits{DailyImageSwaps: 999, DailyVideoSwaps: 999, MaxFileSize: 50 << 20, MaxVideoDuration: 10 * time.Minute},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	users         *repository.FileUserStore
	locks         *keylock.Locker
	quota         *QuotaService
	subscriptions *SubscriptionService
	logs          *repository.MemorySwapLogStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users, err := repository.NewFileUserStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	locks := keylock.New()
	log := discardLogger()
	return &fixture{
		users:         users,
		locks:         locks,
		quota:         NewQuotaService(users, testRules, locks, log),
		subscriptions: NewSubscriptionService(users, locks, log),
		logs:          repository.NewMemorySwapLogStore(),
	}
}

func (f *fixture) addUser(t *testing.T, telegramID int64, mutate func(u *models.User)) *models.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := f.quota.Ensure(ctx, models.Profile{TelegramID: telegramID, Username: "tester"})
	require.NoError(t, err)
	if mutate == nil {
		return u
	}
	u, err = f.users.Update(ctx, telegramID, func(u *models.User) error {
		mutate(u)
		return nil
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) user(t *testing.T, telegramID int64) *models.User {
	t.Helper()
	u, err := f.users.Get(context.Background(), telegramID)
	require.NoError(t, err)
	return u
}

func concurrently(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
