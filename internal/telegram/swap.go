package telegram

import (
	"context"
	"errors"
	"log/slog"

	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/quota"
	"github.com/digkill/faceswapbot/internal/service"
	"github.com/digkill/faceswapbot/internal/session"
	"github.com/digkill/faceswapbot/pkg/logger"
)

type quotaEvaluator interface {
	Evaluate(ctx context.Context, telegramID int64, kind models.SwapKind) (quota.Decision, error)
}

type swapProcessor interface {
	Process(ctx context.Context, telegramID int64, inputs *session.Inputs, ent quota.Entitlement) (*service.SwapResult, error)
}

// swapNotifier is the chat side of a swap run.
type swapNotifier interface {
	sendText(chatID int64, text string)
	sendChatAction(chatID int64, kind models.SwapKind)
	deliver(chatID int64, result *service.SwapResult)
	alertOperators(uid int64, kind models.SwapKind, err error)
}

// swapRunner turns ready inputs into a delivered result or a failure message.
// The session goes back to idle whatever the outcome.
type swapRunner struct {
	quota    quotaEvaluator
	swaps    swapProcessor
	sessions *session.Tracker
	notify   swapNotifier
	log      *slog.Logger
}

// run returns the delivered result, or nil when the swap did not happen.
func (r *swapRunner) run(ctx context.Context, chatID, uid int64, inputs *session.Inputs) *service.SwapResult {
	decision, err := r.quota.Evaluate(ctx, uid, inputs.Kind)
	if err != nil {
		r.sessions.Complete(uid, session.CompletedFailure)
		var qe *service.QuotaError
		if errors.As(err, &qe) {
			r.notify.sendText(chatID, quotaText(qe))
			return nil
		}
		r.log.Error("evaluate quota", "telegram_id", uid, logger.Err(err))
		r.notify.sendText(chatID, failureText(models.FailurePersistence))
		return nil
	}

	r.notify.sendText(chatID, processingText(inputs.Kind))
	r.notify.sendChatAction(chatID, inputs.Kind)

	result, err := r.swaps.Process(ctx, uid, inputs, decision.Entitlement)
	if err != nil {
		r.sessions.Complete(uid, session.CompletedFailure)
		kind := service.FailureOf(err)
		r.log.Warn("swap failed", "telegram_id", uid, "kind", inputs.Kind, "failure", kind, logger.Err(err))
		if kind.NeedsOperator() {
			r.notify.alertOperators(uid, inputs.Kind, err)
		}
		r.notify.sendText(chatID, failureText(kind))
		return nil
	}
	r.sessions.Complete(uid, session.CompletedSuccess)

	r.notify.deliver(chatID, result)
	return result
}
