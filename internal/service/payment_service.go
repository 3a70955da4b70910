package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/repository"
	"github.com/digkill/faceswapbot/pkg/logger"
)

const (
	providerTelegram = "telegram"
	providerYooKassa = "yookassa"

	yooKassaPaymentsURL = "https://api.yookassa.ru/v3/payments"
)

type PaymentService struct {
	cfg           config.Config
	log           *slog.Logger
	payments      repository.PaymentStore
	plans         *PlanService
	subscriptions *SubscriptionService
	client        *http.Client
	yooKassaURL   string
}

func NewPaymentService(cfg config.Config, log *slog.Logger, payments repository.PaymentStore, plans *PlanService, subscriptions *SubscriptionService) *PaymentService {
	return &PaymentService{
		cfg:           cfg,
		log:           log,
		payments:      payments,
		plans:         plans,
		subscriptions: subscriptions,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		yooKassaURL: yooKassaURL(cfg),
	}
}

func yooKassaURL(cfg config.Config) string {
	if cfg.YooKassaAPIURL != "" {
		return strings.TrimRight(cfg.YooKassaAPIURL, "/")
	}
	return yooKassaPaymentsURL
}

type invoicePayload struct {
	PlanID int64 `json:"plan_id"`
}

// SendInvoice sends an invoice or payment link for planID depending on the
// configured provider.
func (s *PaymentService) SendInvoice(ctx context.Context, bot *tgbotapi.BotAPI, user *models.User, chatID, planID int64) error {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}
	if plan == nil || !plan.IsActive {
		return ErrPlanNotFound
	}

	switch strings.ToLower(s.cfg.PaymentProvider) {
	case providerTelegram, "":
		return s.sendTelegramInvoice(plan, bot, chatID)
	case providerYooKassa:
		return s.sendYooKassaPayment(ctx, plan, bot, user, chatID)
	default:
		return fmt.Errorf("unsupported payment provider: %s", s.cfg.PaymentProvider)
	}
}

func (s *PaymentService) sendTelegramInvoice(plan *models.Plan, bot *tgbotapi.BotAPI, chatID int64) error {
	prices := []tgbotapi.LabeledPrice{
		{
			Label:  fmt.Sprintf("Premium, %d days", plan.DurationDays),
			Amount: plan.PriceMinorUnits,
		},
	}

	payload, _ := json.Marshal(invoicePayload{PlanID: plan.ID})

	description := plan.Description
	if description == "" {
		description = "Premium subscription"
	}

	invoice := tgbotapi.NewInvoice(chatID,
		plan.Title,
		description,
		string(payload),
		s.cfg.TelegramPaymentProviderToken,
		"premium",
		plan.Currency,
		prices,
	)
	invoice.SuggestedTipAmounts = []int{}

	if _, err := bot.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

func (s *PaymentService) sendYooKassaPayment(ctx context.Context, plan *models.Plan, bot *tgbotapi.BotAPI, user *models.User, chatID int64) error {
	payment, err := s.createYooKassaPayment(ctx, plan)
	if err != nil {
		return err
	}

	planID := plan.ID
	record := &models.Payment{
		UserID:         user.ID,
		TelegramID:     user.TelegramID,
		PlanID:         &planID,
		Provider:       providerYooKassa,
		ProviderCharge: payment.ID,
		Currency:       plan.Currency,
		Amount:         plan.PriceMinorUnits,
		Status:         payment.Status,
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}

	text := fmt.Sprintf("Payment via YooKassa:\nPlan: %s\nAmount: %.2f %s\nPay here: %s\nPremium is activated automatically once the payment is confirmed.",
		plan.Title, float64(plan.PriceMinorUnits)/100, plan.Currency, payment.Confirmation.URL)

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("send payment link: %w", err)
	}
	return nil
}

func (s *PaymentService) HandlePreCheckout(bot *tgbotapi.BotAPI, query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	var payload invoicePayload
	if err := json.Unmarshal([]byte(query.InvoicePayload), &payload); err != nil || payload.PlanID == 0 {
		response.OK = false
		response.ErrorMessage = "This invoice is no longer valid."
	}
	if _, err := bot.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// HandleSuccessfulPayment activates premium for a paid Telegram invoice and
// records the payment. The updated user is returned.
func (s *PaymentService) HandleSuccessfulPayment(ctx context.Context, user *models.User, payment *tgbotapi.SuccessfulPayment) (*models.User, *models.Plan, error) {
	var payload invoicePayload
	if err := json.Unmarshal([]byte(payment.InvoicePayload), &payload); err != nil {
		return nil, nil, fmt.Errorf("parse payment payload: %w", err)
	}

	plan, err := s.plans.GetByID(ctx, payload.PlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("get plan: %w", err)
	}
	if plan == nil {
		return nil, nil, ErrPlanNotFound
	}

	updated, err := s.subscriptions.ActivatePremium(ctx, user.TelegramID, plan.Code, plan.Duration(), providerTelegram)
	if err != nil {
		return nil, nil, fmt.Errorf("activate premium: %w", err)
	}

	planID := plan.ID
	record := &models.Payment{
		UserID:         user.ID,
		TelegramID:     user.TelegramID,
		PlanID:         &planID,
		Provider:       providerTelegram,
		ProviderCharge: payment.ProviderPaymentChargeID,
		Currency:       payment.Currency,
		Amount:         payment.TotalAmount,
		Status:         "paid",
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		// Premium is already active; losing the audit row must not undo it.
		s.log.Error("record telegram payment", "telegram_id", user.TelegramID, "charge", payment.ProviderPaymentChargeID, logger.Err(err))
	}
	return updated, plan, nil
}

type yooPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (s *PaymentService) createYooKassaPayment(ctx context.Context, plan *models.Plan) (*yooPaymentResponse, error) {
	if s.cfg.YooKassaShopID == "" || s.cfg.YooKassaSecretKey == "" {
		return nil, fmt.Errorf("yookassa credentials are not configured")
	}

	value := fmt.Sprintf("%.2f", float64(plan.PriceMinorUnits)/100)
	returnURL := s.cfg.YooKassaReturnURL
	if returnURL == "" {
		returnURL = "https://t.me"
	}

	payload := map[string]any{
		"amount": map[string]string{
			"value":    value,
			"currency": plan.Currency,
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": fmt.Sprintf("%s (%d days)", plan.Title, plan.DurationDays),
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.yooKassaURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yookassa error: status=%d", resp.StatusCode)
	}

	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing id or confirmation url)")
	}
	if parsed.Status == "" {
		parsed.Status = "pending"
	}
	return &parsed, nil
}

// fetchYooKassaPayment loads a payment from the YooKassa API with the shop
// credentials. Webhook bodies are unauthenticated; only this view is trusted.
func (s *PaymentService) fetchYooKassaPayment(ctx context.Context, id string) (*yooPaymentResponse, error) {
	if s.cfg.YooKassaShopID == "" || s.cfg.YooKassaSecretKey == "" {
		return nil, fmt.Errorf("yookassa credentials are not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.yooKassaURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yookassa error: status=%d", resp.StatusCode)
	}
	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID != id {
		return nil, fmt.Errorf("yookassa returned payment %q for %q", parsed.ID, id)
	}
	return &parsed, nil
}

// matchesAmount reports whether the charged amount is what was invoiced.
func matchesAmount(remote *yooPaymentResponse, pmt *models.Payment) bool {
	if remote.Amount.Value != fmt.Sprintf("%.2f", float64(pmt.Amount)/100) {
		return false
	}
	return pmt.Currency == "" || strings.EqualFold(remote.Amount.Currency, pmt.Currency)
}

// HandleYooKassaWebhook processes payment status notifications. The status
// is re-read from the YooKassa API before premium is activated. Repeated
// notifications for a paid payment are no-ops.
func (s *PaymentService) HandleYooKassaWebhook(ctx context.Context, payload []byte) error {
	var evt struct {
		Event  string `json:"event"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	if evt.Object.ID == "" {
		return fmt.Errorf("webhook missing payment id")
	}

	pmt, err := s.payments.FindByProviderCharge(ctx, providerYooKassa, evt.Object.ID)
	if err != nil {
		return fmt.Errorf("find payment: %w", err)
	}
	if pmt == nil {
		return fmt.Errorf("payment not found for id=%s", evt.Object.ID)
	}
	if pmt.Status == "paid" {
		return nil
	}

	remote, err := s.fetchYooKassaPayment(ctx, pmt.ProviderCharge)
	if err != nil {
		return fmt.Errorf("verify payment: %w", err)
	}
	raw := string(jsonMustMarshal(remote))

	if remote.Status != "succeeded" {
		if err := s.payments.UpdateStatus(ctx, pmt.ID, remote.Status, raw); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		return nil
	}
	if !matchesAmount(remote, pmt) {
		s.log.Error("yookassa amount mismatch", "payment_id", pmt.ID, "charged", remote.Amount.Value, "currency", remote.Amount.Currency, "expected", pmt.Amount)
		return fmt.Errorf("payment %s amount mismatch", pmt.ProviderCharge)
	}

	if pmt.PlanID == nil {
		return fmt.Errorf("payment missing plan_id")
	}
	plan, err := s.plans.GetByID(ctx, *pmt.PlanID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}
	if plan == nil {
		return ErrPlanNotFound
	}
	if _, err := s.subscriptions.ActivatePremium(ctx, pmt.TelegramID, plan.Code, plan.Duration(), providerYooKassa); err != nil {
		return fmt.Errorf("activate premium: %w", err)
	}
	if err := s.payments.UpdateStatus(ctx, pmt.ID, "paid", raw); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
