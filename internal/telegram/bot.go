package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/metrics"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/service"
	"github.com/digkill/faceswapbot/internal/session"
	"github.com/digkill/faceswapbot/pkg/logger"
)

const (
	sweepInterval  = time.Minute
	limiterMaxIdle = time.Hour
)

var errFileTooLarge = errors.New("file too large")

// ResultArchive keeps a copy of delivered results.
type ResultArchive interface {
	Store(ctx context.Context, telegramID int64, kind models.SwapKind, data []byte, contentType string) (string, string, error)
}

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	quota      *service.QuotaService
	plans      *service.PlanService
	payments   *service.PaymentService
	archive    ResultArchive
	sessions   *session.Tracker
	dispatch   *dispatcher
	runner     *swapRunner
	httpClient *http.Client
}

type Deps struct {
	Quota    *service.QuotaService
	Swaps    *service.SwapService
	Plans    *service.PlanService
	Payments *service.PaymentService
	Archive  ResultArchive
	Sessions *session.Tracker
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, deps Deps) *Bot {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewTracker(cfg.SessionTTL)
	}
	b := &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		quota:      deps.Quota,
		plans:      deps.Plans,
		payments:   deps.Payments,
		archive:    deps.Archive,
		sessions:   sessions,
		dispatch:   newDispatcher(cfg.UserEventsPerSecond, cfg.UserEventBurst),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	b.runner = &swapRunner{
		quota:    deps.Quota,
		swaps:    deps.Swaps,
		sessions: sessions,
		notify:   b,
		log:      log,
	}
	return b
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case update := <-updates:
			b.route(ctx, update)
		case now := <-ticker.C:
			if expired := b.sessions.Sweep(); expired > 0 {
				b.log.Info("expired idle sessions", "count", expired)
			}
			b.dispatch.Prune(now, limiterMaxIdle)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.dispatch.Wait()
			return ctx.Err()
		}
	}
}

// route hands an update to the owning user's queue.
func (b *Bot) route(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		userID := msg.From.ID
		if msg.SuccessfulPayment != nil {
			b.dispatch.DispatchAlways(userID, func() { b.handleSuccessfulPayment(ctx, msg) })
			return
		}
		if !b.dispatch.Dispatch(userID, func() { b.handleMessage(ctx, msg) }) {
			b.log.Debug("rate limited", "telegram_id", userID)
		}
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if !b.dispatch.Dispatch(cb.From.ID, func() { b.handleCallback(ctx, cb) }) {
			b.answerCallback(cb.ID, "Too many requests, slow down.")
		}
	case update.PreCheckoutQuery != nil:
		q := update.PreCheckoutQuery
		b.dispatch.DispatchAlways(q.From.ID, func() {
			if err := b.payments.HandlePreCheckout(b.api, q); err != nil {
				b.log.Error("pre-checkout failed", logger.Err(err))
			}
		})
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if media, ok := mediaFromMessage(msg); ok {
		b.handleMedia(ctx, msg, media)
		return
	}
	b.sendText(msg.Chat.ID, stepPrompt(b.sessions.Step(msg.From.ID)))
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		user, _, err := b.ensureUser(ctx, msg.From)
		if err != nil {
			b.log.Error("ensure user", logger.Err(err))
			b.sendText(chatID, failureText(models.FailurePersistence))
			return
		}
		b.sessions.Complete(user.TelegramID, session.CompletedAborted)
		b.sendMenu(chatID, user.FirstName)
	case "imageswap":
		b.startFlow(ctx, msg.From, chatID, models.SwapImage)
	case "videoswap":
		b.startFlow(ctx, msg.From, chatID, models.SwapVideo)
	case "cancel":
		if b.sessions.Step(msg.From.ID) == session.StepIdle {
			b.sendText(chatID, "Nothing to cancel.")
			return
		}
		b.sessions.Complete(msg.From.ID, session.CompletedAborted)
		b.sendText(chatID, "Cancelled. Choose /imageswap or /videoswap to start again.")
	case "status":
		b.handleStatus(ctx, msg.From, chatID)
	case "premium", "buy":
		b.sendPlans(ctx, chatID)
	default:
		b.sendText(chatID, "Unknown command. Use /start to see the menu.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		b.answerCallback(cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID
	switch {
	case cb.Data == cbImageSwap:
		b.answerCallback(cb.ID, "")
		b.startFlow(ctx, cb.From, chatID, models.SwapImage)
	case cb.Data == cbVideoSwap:
		b.answerCallback(cb.ID, "")
		b.startFlow(ctx, cb.From, chatID, models.SwapVideo)
	case cb.Data == cbPremium:
		b.answerCallback(cb.ID, "")
		b.sendPlans(ctx, chatID)
	case strings.HasPrefix(cb.Data, cbPlan):
		b.handlePlanChoice(ctx, cb, chatID)
	default:
		b.answerCallback(cb.ID, "Unknown choice")
	}
}

// startFlow checks quota first so a user who is out of swaps is told before
// uploading anything, then enters the flow.
func (b *Bot) startFlow(ctx context.Context, from *tgbotapi.User, chatID int64, kind models.SwapKind) {
	user, _, err := b.ensureUser(ctx, from)
	if err != nil {
		b.log.Error("ensure user", logger.Err(err))
		b.sendText(chatID, failureText(models.FailurePersistence))
		return
	}
	if _, err := b.quota.Evaluate(ctx, user.TelegramID, kind); err != nil {
		var qe *service.QuotaError
		if errors.As(err, &qe) {
			b.sendText(chatID, quotaText(qe))
			return
		}
		b.log.Error("evaluate quota", "telegram_id", user.TelegramID, logger.Err(err))
		b.sendText(chatID, failureText(models.FailurePersistence))
		return
	}

	step, aborted := b.sessions.Start(user.TelegramID, kind)
	text := stepPrompt(step)
	if aborted {
		text = "Previous swap cancelled.\n" + text
	}
	b.sendText(chatID, text)
}

func (b *Bot) handleMedia(ctx context.Context, msg *tgbotapi.Message, media incomingMedia) {
	chatID := msg.Chat.ID
	user, _, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		b.log.Error("ensure user", logger.Err(err))
		b.sendText(chatID, failureText(models.FailurePersistence))
		return
	}
	uid := user.TelegramID
	limits := b.quota.EntitlementFor(user).Limits

	step := b.sessions.Step(uid)
	if reason, ok := precheck(step, media, limits); !ok {
		b.sendText(chatID, rejectText(reason, step, limits))
		return
	}

	data, err := b.downloadFile(ctx, media.FileID, limits.MaxFileSize)
	if err != nil {
		if errors.Is(err, errFileTooLarge) {
			b.sendText(chatID, rejectText(session.ReasonFileTooLarge, step, limits))
			return
		}
		b.log.Error("download media", "telegram_id", uid, logger.Err(err))
		b.sendText(chatID, "Could not download the file, please send it again.")
		return
	}

	out := b.sessions.Advance(uid, session.Media{
		Kind:     media.Kind,
		Data:     data,
		Size:     int64(len(data)),
		Duration: media.Duration,
		MimeType: media.MimeType,
	}, limits)

	switch out.Kind {
	case session.NeedMore:
		b.sendText(chatID, stepPrompt(out.Step))
	case session.Rejected:
		b.sendText(chatID, rejectText(out.Reason, out.Step, limits))
	case session.ReadyToProcess:
		b.runSwap(ctx, chatID, uid, out.Inputs)
	}
}

func (b *Bot) runSwap(ctx context.Context, chatID, uid int64, inputs *session.Inputs) {
	if result := b.runner.run(ctx, chatID, uid, inputs); result != nil {
		b.archiveResult(ctx, uid, result)
	}
}

func (b *Bot) deliver(chatID int64, result *service.SwapResult) {
	caption := resultCaption(result)
	var err error
	if result.Kind == models.SwapVideo {
		cfg := tgbotapi.NewVideo(chatID, tgbotapi.FileBytes{Name: "faceswap.mp4", Bytes: result.Data})
		cfg.Caption = caption
		cfg.SupportsStreaming = true
		_, err = b.api.Send(cfg)
	} else {
		cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "faceswap" + imageExt(result.MimeType), Bytes: result.Data})
		cfg.Caption = caption
		_, err = b.api.Send(cfg)
	}
	if err != nil {
		b.log.Error("send result", "chat_id", chatID, logger.Err(err))
	}
}

func (b *Bot) archiveResult(ctx context.Context, uid int64, result *service.SwapResult) {
	if b.archive == nil {
		return
	}
	key, _, err := b.archive.Store(ctx, uid, result.Kind, result.Data, result.MimeType)
	if err != nil {
		b.log.Warn("archive result", "telegram_id", uid, logger.Err(err))
		return
	}
	b.log.Debug("result archived", "telegram_id", uid, "key", key)
}

func (b *Bot) alertOperators(uid int64, kind models.SwapKind, err error) {
	metrics.OperatorAlerts.Inc()
	b.log.Error("transformation service needs operator", "telegram_id", uid, "kind", kind, logger.Err(err))
	text := operatorAlertText(uid, kind, err)
	for _, chatID := range b.cfg.OperatorChatIDs {
		b.sendText(chatID, text)
	}
}

func (b *Bot) handleStatus(ctx context.Context, from *tgbotapi.User, chatID int64) {
	if _, _, err := b.ensureUser(ctx, from); err != nil {
		b.log.Error("ensure user", logger.Err(err))
		b.sendText(chatID, failureText(models.FailurePersistence))
		return
	}
	st, err := b.quota.Status(ctx, from.ID)
	if err != nil {
		b.log.Error("load status", "telegram_id", from.ID, logger.Err(err))
		b.sendText(chatID, failureText(models.FailurePersistence))
		return
	}
	b.sendText(chatID, statusText(st))
}

func (b *Bot) sendMenu(chatID int64, name string) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📸 Image Swap", cbImageSwap)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🎥 Video Swap", cbVideoSwap)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💎 Premium", cbPremium)),
	)
	msg := tgbotapi.NewMessage(chatID, startText(name))
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send menu", logger.Err(err))
	}
}

func (b *Bot) sendPlans(ctx context.Context, chatID int64) {
	plans, err := b.plans.ListActive(ctx)
	if err != nil {
		b.log.Error("list plans", logger.Err(err))
		b.sendText(chatID, "Premium plans are unavailable right now, please try later.")
		return
	}
	if len(plans) == 0 {
		b.sendText(chatID, "No premium plans are available right now.")
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(planButtonLabel(p), fmt.Sprintf("%s%d", cbPlan, p.ID)),
		))
	}
	msg := tgbotapi.NewMessage(chatID, "💎 Premium: higher daily limits, bigger files, longer videos and HD quality.\nChoose a plan:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send plans", logger.Err(err))
	}
}

func (b *Bot) handlePlanChoice(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID int64) {
	planID, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, cbPlan), 10, 64)
	if err != nil {
		b.answerCallback(cb.ID, "Unknown plan")
		return
	}
	b.answerCallback(cb.ID, "")
	user, _, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		b.log.Error("ensure user", logger.Err(err))
		return
	}
	if err := b.payments.SendInvoice(ctx, b.api, user, chatID, planID); err != nil {
		if errors.Is(err, service.ErrPlanNotFound) {
			b.sendText(chatID, "This plan is no longer available. Use /premium to see current plans.")
			return
		}
		b.log.Error("send invoice", "telegram_id", user.TelegramID, logger.Err(err))
		b.sendText(chatID, "Could not create the payment. Please try again later.")
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		b.log.Error("ensure user payment", logger.Err(err))
		return
	}
	updated, _, err := b.payments.HandleSuccessfulPayment(ctx, user, msg.SuccessfulPayment)
	if err != nil {
		b.log.Error("process successful payment", "telegram_id", user.TelegramID, "charge", msg.SuccessfulPayment.ProviderPaymentChargeID, logger.Err(err))
		b.sendText(msg.Chat.ID, "Payment received, but activation failed. Our team has been notified.")
		return
	}
	b.sendText(msg.Chat.ID, premiumActivatedText(updated))
}

// Broadcast sends text to every known user and reports how many sends failed.
func (b *Bot) Broadcast(ctx context.Context, telegramIDs []int64, text string) (sent, failed int) {
	for _, id := range telegramIDs {
		if ctx.Err() != nil {
			break
		}
		if _, err := b.api.Send(tgbotapi.NewMessage(id, text)); err != nil {
			failed++
			b.log.Warn("broadcast send", "telegram_id", id, logger.Err(err))
			continue
		}
		sent++
	}
	return sent, failed
}

// Notify sends a plain text message to a chat.
func (b *Bot) Notify(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) downloadFile(ctx context.Context, fileID string, maxSize int64) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file path empty")
	}
	if maxSize > 0 && int64(file.FileSize) > maxSize {
		return nil, errFileTooLarge
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	return readLimited(resp.Body, maxSize)
}

func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	if int64(len(body)) > maxSize {
		return nil, errFileTooLarge
	}
	return body, nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*models.User, bool, error) {
	if from == nil {
		return nil, false, errors.New("message has no sender")
	}
	return b.quota.Ensure(ctx, models.Profile{
		TelegramID: from.ID,
		Username:   from.UserName,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	})
}

func (b *Bot) sendChatAction(chatID int64, kind models.SwapKind) {
	action := tgbotapi.ChatUploadPhoto
	if kind == models.SwapVideo {
		action = tgbotapi.ChatUploadVideo
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		b.log.Debug("send chat action", logger.Err(err))
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", logger.Err(err))
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "chat_id", chatID, logger.Err(err))
	}
}

func imageExt(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
