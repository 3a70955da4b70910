package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/keylock"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/quota"
	"github.com/digkill/faceswapbot/internal/repository"
	"github.com/digkill/faceswapbot/internal/service"
)

type recordingMessenger struct {
	mu        sync.Mutex
	broadcast []int64
	notified  []int64
}

func (m *recordingMessenger) Broadcast(ctx context.Context, ids []int64, text string) (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = append(m.broadcast, ids...)
	return len(ids), 0
}

func (m *recordingMessenger) Notify(chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, chatID)
	return nil
}

type harness struct {
	handler   http.Handler
	users     *repository.FileUserStore
	quota     *service.QuotaService
	payments  *repository.MemoryPaymentStore
	plans     *service.PlanService
	swapLogs  *repository.MemorySwapLogStore
	messenger *recordingMessenger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users, err := repository.NewFileUserStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)

	yooKassa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "shop" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/")
		_, _ = w.Write([]byte(`{"id":"` + id + `","status":"succeeded","amount":{"value":"149.00","currency":"RUB"}}`))
	}))
	t.Cleanup(yooKassa.Close)

	cfg := config.Config{
		PaymentProvider:   "yookassa",
		PaymentCurrency:   "RUB",
		YooKassaShopID:    "shop",
		YooKassaSecretKey: "secret",
		YooKassaAPIURL:    yooKassa.URL,
		PremiumPlans: []config.PlanSpec{
			{Code: "week", Title: "Premium week", DurationDays: 7, PriceMinorUnits: 14900},
		},
	}
	rules := quota.Rules{
		Free:    config.Limits{DailyImageSwaps: 3, DailyVideoSwaps: 1, MaxFileSize: 20 << 20, MaxVideoDuration: 30 * time.Second},
		Premium: config.Limits{DailyImageSwaps: 100, DailyVideoSwaps: 20, MaxFileSize: 50 << 20, MaxVideoDuration: 5 * time.Minute},
	}
	locks := keylock.New()
	quotas := service.NewQuotaService(users, rules, locks, log)
	subscriptions := service.NewSubscriptionService(users, locks, log)
	plans := service.NewPlanService(cfg, repository.NewMemoryPlanStore())
	require.NoError(t, plans.EnsureDefaultPlans(context.Background()))
	paymentStore := repository.NewMemoryPaymentStore()
	payments := service.NewPaymentService(cfg, log, paymentStore, plans, subscriptions)
	messenger := &recordingMessenger{}
	swapLogs := repository.NewMemorySwapLogStore()

	srv := NewServer(":0", "admin", "secret", log, Deps{
		Users:         users,
		Quota:         quotas,
		Subscriptions: subscriptions,
		Plans:         plans,
		Payments:      payments,
		SwapLogs:      swapLogs,
		Messenger:     messenger,
	})
	return &harness{
		handler:   srv.Handler(),
		users:     users,
		quota:     quotas,
		payments:  paymentStore,
		plans:     plans,
		swapLogs:  swapLogs,
		messenger: messenger,
	}
}

func (h *harness) addUser(t *testing.T, telegramID int64) *models.User {
	t.Helper()
	u, _, err := h.quota.Ensure(context.Background(), models.Profile{TelegramID: telegramID, Username: "tester"})
	require.NoError(t, err)
	return u
}

func (h *harness) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/metrics", "/stats", "/plans/", "/users/1/"} {
		rec := h.do(http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "faceswapbot")
	}

	req := httptest.NewRequest(http.MethodGet, "/plans/", nil)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/metrics", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, h.swapLogs.Log(ctx, models.SwapLog{UserID: 1, Kind: models.SwapImage, CreatedAt: now}))
	require.NoError(t, h.swapLogs.Log(ctx, models.SwapLog{UserID: 1, Kind: models.SwapVideo, CreatedAt: now}))
	require.NoError(t, h.swapLogs.Log(ctx, models.SwapLog{UserID: 2, Kind: models.SwapImage, CreatedAt: now.Add(-48 * time.Hour)}))

	rec := h.do(http.MethodGet, "/stats", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Date  string `json:"date"`
		Swaps int    `json:"swaps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, now.Format("2006-01-02"), resp.Date)
	assert.Equal(t, 2, resp.Swaps)

	rec = h.do(http.MethodGet, "/stats?date="+now.Add(-48*time.Hour).Format("2006-01-02"), "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Swaps)

	rec = h.do(http.MethodGet, "/stats?date=yesterday", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanCRUD(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/plans/", `{"code":"Year","title":"Premium year","price_minor_units":99900,"duration_days":365}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "year", created.Code)
	assert.Equal(t, 365, created.DurationDays)

	rec = h.do(http.MethodPost, "/plans/", `{"code":"year","title":"dup","price_minor_units":1,"duration_days":1}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/plans/"+itoa(created.ID), `{"duration_days":366}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, 366, updated.DurationDays)

	rec = h.do(http.MethodPut, "/plans/9999", `{"duration_days":1}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPut, "/plans/abc", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodDelete, "/plans/"+itoa(created.ID), "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/plans/", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var plans []models.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, "week", plans[0].Code)
}

func TestGetUser(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 42)

	rec := h.do(http.MethodGet, "/users/42/", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(quota.TierFree), resp.Tier)
	assert.Equal(t, 3, resp.ImageLimit)
	assert.Equal(t, 1, resp.VideoLimit)

	rec = h.do(http.MethodGet, "/users/43/", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivatePremium(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 7)

	rec := h.do(http.MethodPost, "/users/7/premium", `{"plan_code":"week","notify":true}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	u, err := h.users.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, u.Premium)
	assert.Equal(t, "week", u.PremiumPlan)
	require.NotNil(t, u.PremiumExpiry)
	weekExpiry := *u.PremiumExpiry
	assert.WithinDuration(t, quota.Today(time.Now()).Add(7*24*time.Hour), weekExpiry, time.Second)
	assert.Equal(t, []int64{7}, h.messenger.notified)

	// A shorter grant never cuts an active subscription.
	rec = h.do(http.MethodPost, "/users/7/premium", `{"days":3}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	u, err = h.users.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.WithinDuration(t, weekExpiry, *u.PremiumExpiry, time.Second)
	assert.Equal(t, "manual", u.PremiumPlan)

	rec = h.do(http.MethodPost, "/users/7/premium", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/users/7/premium", `{"plan_code":"missing"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/users/8/premium", `{"days":3}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBroadcast(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1)
	h.addUser(t, 2)

	rec := h.do(http.MethodPost, "/broadcast", `{"message":"hello"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["sent"])
	assert.Equal(t, 2, resp["total"])
	assert.ElementsMatch(t, []int64{1, 2}, h.messenger.broadcast)

	rec = h.do(http.MethodPost, "/broadcast", `{"message":"  "}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestYooKassaWebhook(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, 5)
	week, err := h.plans.GetByCode(context.Background(), "week")
	require.NoError(t, err)
	planID := week.ID
	require.NoError(t, h.payments.Create(context.Background(), &models.Payment{
		UserID: u.ID, TelegramID: u.TelegramID, PlanID: &planID,
		Provider: "yookassa", ProviderCharge: "yk-9", Currency: "RUB", Amount: 14900, Status: "pending",
	}))

	rec := h.do(http.MethodPost, "/webhook/yookassa", `{"event":"payment.succeeded","object":{"id":"yk-9","status":"succeeded"}}`, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := h.users.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, got.Premium)

	rec = h.do(http.MethodPost, "/webhook/yookassa", `not json`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
