package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlans(t *testing.T) {
	plans, err := ParsePlans("week:Premium week:7:14900, month:Premium month:30:39900")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, PlanSpec{Code: "week", Title: "Premium week", DurationDays: 7, PriceMinorUnits: 14900}, plans[0])
	assert.Equal(t, 30, plans[1].DurationDays)

	tests := []string{
		"week:Premium:7",
		"week:Premium:zero:100",
		"week:Premium:7:-1",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := ParsePlans(raw)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("FACESWAP_API_KEY", "key")
	t.Setenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN", "provider")
	t.Setenv("FREE_DAILY_IMAGE_SWAPS", "5")
	t.Setenv("FREE_MAX_VIDEO_SECONDS", "45")
	t.Setenv("OPERATOR_CHAT_IDS", "10, 20")
	t.Setenv("FACESWAP_BASE_URL", "faceswap.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreFile, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.FreeLimits.DailyImageSwaps)
	assert.Equal(t, 1, cfg.FreeLimits.DailyVideoSwaps)
	assert.Equal(t, 45*time.Second, cfg.FreeLimits.MaxVideoDuration)
	assert.Equal(t, int64(20<<20), cfg.FreeLimits.MaxFileSize)
	assert.Equal(t, []int64{10, 20}, cfg.OperatorChatIDs)
	assert.Equal(t, "https://faceswap.example.com", cfg.FaceSwapBaseURL)
	assert.Equal(t, "faceswap.example.com", cfg.FaceSwapAPIHost)
	assert.Len(t, cfg.PremiumPlans, 2)
	assert.Equal(t, "https://api.yookassa.ru/v3/payments", cfg.YooKassaAPIURL)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestNormalizeBaseURL(t *testing.T) {
	const fallback = "https://face-swap1.p.rapidapi.com"
	tests := []struct {
		raw      string
		wantURL  string
		wantHost string
	}{
		{"faceswap.example.com", "https://faceswap.example.com", "faceswap.example.com"},
		{"faceswap.example.com/", "https://faceswap.example.com", "faceswap.example.com"},
		{"faceswap.example.com/api/", "https://faceswap.example.com/api", "faceswap.example.com"},
		{"http://localhost:8080/", "http://localhost:8080", "localhost:8080"},
		{"https://faceswap.example.com/v1", "https://faceswap.example.com/v1", "faceswap.example.com"},
		{"  ", fallback, "face-swap1.p.rapidapi.com"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := normalizeBaseURL(tt.raw, fallback)
			assert.Equal(t, tt.wantURL, got)
			assert.Equal(t, tt.wantHost, hostOf(got))
		})
	}
}

func TestLoadMissing(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("FACESWAP_API_KEY", "")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("MYSQL_DSN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, err.Error(), "MYSQL_DSN")
}
