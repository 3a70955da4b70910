package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/quota"
	"github.com/digkill/faceswapbot/internal/service"
	"github.com/digkill/faceswapbot/internal/session"
)

const (
	cbImageSwap = "image_swap"
	cbVideoSwap = "video_swap"
	cbPremium   = "premium"
	cbPlan      = "plan:"
)

func startText(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("🤖 Face Swap Bot\n\nHi, %s! Choose your swap type:\n\n"+
		"/imageswap: put a face from one photo onto another\n"+
		"/videoswap: put a face onto a video\n"+
		"/status: your plan and today's usage\n"+
		"/premium: upgrade for higher limits and HD quality\n"+
		"/cancel: abort the current swap", name)
}

func stepPrompt(step session.Step) string {
	switch step {
	case session.StepAwaitingImageSource:
		return "📸 Send the photo with the face you want to use."
	case session.StepAwaitingImageTarget:
		return "Now send the photo where the face should be placed."
	case session.StepAwaitingVideo:
		return "🎥 Send the video you want to edit."
	case session.StepAwaitingVideoFace:
		return "Now send a photo with the face to put into the video."
	default:
		return "Choose /imageswap or /videoswap to start."
	}
}

func rejectText(reason session.RejectReason, step session.Step, limits config.Limits) string {
	switch reason {
	case session.ReasonNoActiveFlow:
		return "No swap in progress. Choose /imageswap or /videoswap to start."
	case session.ReasonWrongKind:
		if step.Expects() == session.MediaVideo {
			return "I'm waiting for a video. " + stepPrompt(step)
		}
		return "I'm waiting for a photo. " + stepPrompt(step)
	case session.ReasonEmptyMedia:
		return "That file is empty. " + stepPrompt(step)
	case session.ReasonFileTooLarge:
		return fmt.Sprintf("⚠️ File is too large. Your limit is %s.", formatBytes(limits.MaxFileSize))
	case session.ReasonVideoTooLong:
		return fmt.Sprintf("⚠️ Video is too long. Your limit is %s.", formatDuration(limits.MaxVideoDuration))
	case session.ReasonUnknownDuration:
		return fmt.Sprintf("⚠️ I can't tell how long that video is. Send it as a video, not as a file (limit %s).", formatDuration(limits.MaxVideoDuration))
	default:
		return stepPrompt(step)
	}
}

func quotaText(qe *service.QuotaError) string {
	return fmt.Sprintf("⚠️ Daily limit reached: %d of %d %s swaps used today. It resets at midnight UTC. Use /premium for higher limits.",
		qe.Used, qe.Limit, qe.Kind)
}

func failureText(kind models.FailureKind) string {
	switch kind {
	case models.FailureInvalidInput:
		return "❌ Face swap failed. Make sure both images contain clear faces and try again."
	case models.FailureUpstreamRateLimited:
		return "❌ The swap service is busy right now. Please try again in a few minutes."
	case models.FailureQuotaExceeded:
		return "⚠️ Daily limit reached. Use /premium for higher limits."
	case models.FailureValidation:
		return "❌ Something is missing from this swap. Please start again."
	default:
		return "❌ Face swap failed due to a temporary problem. Please try again later."
	}
}

func processingText(kind models.SwapKind) string {
	if kind == models.SwapVideo {
		return "🎥 Processing your video swap... This can take a few minutes."
	}
	return "📸 Processing your image swap... Please wait."
}

func resultCaption(res *service.SwapResult) string {
	caption := "✅ Done!"
	if res.Quality == models.QualityHD {
		caption += " (HD)"
	}
	return caption + fmt.Sprintf(" %s swaps left today: %d", res.Kind, res.Remaining)
}

func statusText(st *service.Status) string {
	var b strings.Builder
	u := st.User
	if st.Entitlement.Premium() {
		b.WriteString("💎 Plan: Premium")
		if u.PremiumExpiry != nil {
			fmt.Fprintf(&b, " until %s", u.PremiumExpiry.Format("2006-01-02"))
		}
	} else {
		b.WriteString("Plan: Free")
	}
	b.WriteString("\n\nToday:\n")
	fmt.Fprintf(&b, "Image swaps: %s\n", usageLine(st.Image))
	fmt.Fprintf(&b, "Video swaps: %s\n", usageLine(st.Video))
	fmt.Fprintf(&b, "\nMax file size: %s\n", formatBytes(st.Entitlement.Limits.MaxFileSize))
	fmt.Fprintf(&b, "Max video length: %s\n", formatDuration(st.Entitlement.Limits.MaxVideoDuration))
	fmt.Fprintf(&b, "\nTotal swaps: %d", u.TotalSwaps)
	return b.String()
}

func usageLine(d quota.Decision) string {
	return fmt.Sprintf("%d/%d", d.Used, d.Limit)
}

func premiumActivatedText(u *models.User) string {
	if u.PremiumExpiry == nil {
		return "💎 Premium is active. Thank you!"
	}
	return fmt.Sprintf("💎 Premium is active until %s. Thank you!", u.PremiumExpiry.Format("2006-01-02"))
}

func planButtonLabel(p models.Plan) string {
	return fmt.Sprintf("%s: %.2f %s", p.Title, float64(p.PriceMinorUnits)/100, p.Currency)
}

func operatorAlertText(telegramID int64, kind models.SwapKind, err error) string {
	return fmt.Sprintf("🚨 Face swap service needs attention (check API key and endpoint).\nuser: %d\nkind: %s\nerror: %v", telegramID, kind, err)
}

func formatBytes(n int64) string {
	switch {
	case n <= 0:
		return "unlimited"
	case n >= 1<<20:
		return fmt.Sprintf("%d MB", n>>20)
	case n >= 1<<10:
		return fmt.Sprintf("%d KB", n>>10)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "unlimited"
	case d%time.Minute == 0:
		return fmt.Sprintf("%d min", int(d/time.Minute))
	default:
		return fmt.Sprintf("%d s", int(d/time.Second))
	}
}
