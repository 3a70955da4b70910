package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/repository"
	"github.com/digkill/faceswapbot/internal/service"
	"github.com/digkill/faceswapbot/pkg/logger"
)

const maxWebhookBody = 1 << 20

// Messenger delivers admin-initiated messages to users.
type Messenger interface {
	Broadcast(ctx context.Context, telegramIDs []int64, text string) (sent, failed int)
	Notify(chatID int64, text string) error
}

type Deps struct {
	Users         repository.UserStore
	Quota         *service.QuotaService
	Subscriptions *service.SubscriptionService
	Plans         *service.PlanService
	Payments      *service.PaymentService
	SwapLogs      repository.SwapLogStore
	Messenger     Messenger
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	deps     Deps
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		deps:     deps,
		router:   r,
	}
	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/yookassa", s.handleYooKassaWebhook)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Handle("/metrics", promhttp.Handler())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/stats", s.handleStats)
		protected.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Post("/", s.handleCreatePlan)
			r.Put("/{id}", s.handleUpdatePlan)
			r.Delete("/{id}", s.handleDeletePlan)
		})
		protected.Route("/users/{telegram_id}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Post("/premium", s.handleActivatePremium)
		})
	})
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", logger.Err(err))
		}
	}()

	s.log.Info("admin server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.deps.Users.Ping(ctx); err != nil {
		s.log.Warn("health check failed", logger.Err(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats reports committed swaps for a UTC day, today unless ?date=YYYY-MM-DD is given.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		day = parsed
	}
	count, err := s.deps.SwapLogs.CountForDay(r.Context(), day)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"date":  day.Format("2006-01-02"),
		"swaps": count,
	})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ids, err := s.deps.Users.ListTelegramIDs(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}

	sent, failed := s.deps.Messenger.Broadcast(ctx, ids, req.Message)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":   sent,
		"failed": failed,
		"total":  len(ids),
	})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Plans.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	input := service.CreatePlanInput{
		Code:            req.Code,
		Title:           req.Title,
		Description:     req.Description,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		DurationDays:    req.DurationDays,
		IsActive:        req.IsActive,
	}
	plan, err := s.deps.Plans.Create(r.Context(), input)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req planUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	input := service.UpdatePlanInput{
		Title:           req.Title,
		Description:     req.Description,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		DurationDays:    req.DurationDays,
		IsActive:        req.IsActive,
	}
	plan, err := s.deps.Plans.Update(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, service.ErrPlanNotFound) {
			http.Error(w, "plan not found", http.StatusNotFound)
			return
		}
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.deps.Plans.Delete(r.Context(), id); err != nil {
		s.badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type userResponse struct {
	User        *models.User `json:"user"`
	Tier        string       `json:"tier"`
	ImageUsed   int          `json:"image_used"`
	ImageLimit  int          `json:"image_limit"`
	VideoUsed   int          `json:"video_used"`
	VideoLimit  int          `json:"video_limit"`
	MaxFileSize int64        `json:"max_file_size"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	telegramID, err := parseID(chi.URLParam(r, "telegram_id"))
	if err != nil {
		http.Error(w, "invalid telegram_id", http.StatusBadRequest)
		return
	}
	st, err := s.deps.Quota.Status(r.Context(), telegramID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userResponse{
		User:        st.User,
		Tier:        string(st.Entitlement.Tier),
		ImageUsed:   st.Image.Used,
		ImageLimit:  st.Image.Limit,
		VideoUsed:   st.Video.Used,
		VideoLimit:  st.Video.Limit,
		MaxFileSize: st.Entitlement.Limits.MaxFileSize,
	})
}

type premiumRequest struct {
	PlanCode string `json:"plan_code"`
	Days     int    `json:"days"`
	Notify   bool   `json:"notify"`
}

// handleActivatePremium grants premium by plan code or by a number of days,
// for payments settled outside the bot.
func (s *Server) handleActivatePremium(w http.ResponseWriter, r *http.Request) {
	telegramID, err := parseID(chi.URLParam(r, "telegram_id"))
	if err != nil {
		http.Error(w, "invalid telegram_id", http.StatusBadRequest)
		return
	}
	var req premiumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	planCode := "manual"
	duration := time.Duration(req.Days) * 24 * time.Hour
	if req.PlanCode != "" {
		plan, err := s.deps.Plans.GetByCode(ctx, req.PlanCode)
		if err != nil {
			s.internalError(w, err)
			return
		}
		if plan == nil {
			http.Error(w, "plan not found", http.StatusNotFound)
			return
		}
		planCode = plan.Code
		duration = plan.Duration()
	}
	if duration <= 0 {
		http.Error(w, "plan_code or positive days required", http.StatusBadRequest)
		return
	}

	user, err := s.deps.Subscriptions.ActivatePremium(ctx, telegramID, planCode, duration, "admin")
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.internalError(w, err)
		return
	}
	if req.Notify && s.deps.Messenger != nil && user.PremiumExpiry != nil {
		text := fmt.Sprintf("💎 Premium is active until %s.", user.PremiumExpiry.Format("2006-01-02"))
		if err := s.deps.Messenger.Notify(telegramID, text); err != nil {
			s.log.Warn("notify premium activation", "telegram_id", telegramID, logger.Err(err))
		}
	}
	s.writeJSON(w, http.StatusOK, user)
}

// handleYooKassaWebhook is the public endpoint for YooKassa payment status
// updates.
func (s *Server) handleYooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := s.deps.Payments.HandleYooKassaWebhook(r.Context(), body); err != nil {
		s.log.Error("yookassa webhook", logger.Err(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="faceswapbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", logger.Err(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

type planRequest struct {
	Code            string `json:"code"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Currency        string `json:"currency"`
	PriceMinorUnits int    `json:"price_minor_units"`
	DurationDays    int    `json:"duration_days"`
	IsActive        *bool  `json:"is_active"`
}

type planUpdateRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	DurationDays    *int    `json:"duration_days"`
	IsActive        *bool   `json:"is_active"`
}
