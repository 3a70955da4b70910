package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/faceswap"
	"github.com/digkill/faceswapbot/internal/metrics"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/internal/quota"
	"github.com/digkill/faceswapbot/internal/repository"
	"github.com/digkill/faceswapbot/internal/session"
	"github.com/digkill/faceswapbot/pkg/logger"
)

// Transformer is the remote face-processing service.
type Transformer interface {
	SwapImage(ctx context.Context, req faceswap.ImageRequest) (*faceswap.Result, error)
	SwapVideo(ctx context.Context, req faceswap.VideoRequest) (*faceswap.Result, error)
}

type SwapService struct {
	cfg    config.Config
	log    *slog.Logger
	client Transformer
	quota  *QuotaService
	logs   repository.SwapLogStore
}

type SwapResult struct {
	Kind      models.SwapKind
	Quality   models.Quality
	Data      []byte
	MimeType  string
	Attempts  int
	Remaining int
}

func NewSwapService(cfg config.Config, log *slog.Logger, client Transformer, quotas *QuotaService, logs repository.SwapLogStore) *SwapService {
	return &SwapService{
		cfg:    cfg,
		log:    log,
		client: client,
		quota:  quotas,
		logs:   logs,
	}
}

// Process runs one swap for telegramID: it calls the transformer with a
// per-attempt timeout, retries transient failures with exponential backoff
// and charges usage exactly once, only after a result was received.
func (s *SwapService) Process(ctx context.Context, telegramID int64, inputs *session.Inputs, ent quota.Entitlement) (*SwapResult, error) {
	if inputs == nil {
		return nil, &SwapError{Kind: models.FailureValidation, Err: errors.New("no inputs")}
	}
	kind := inputs.Kind
	started := time.Now()
	defer func() {
		metrics.SwapDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	}()

	call, err := s.callFor(inputs, ent)
	if err != nil {
		metrics.SwapsTotal.WithLabelValues(string(kind), string(models.FailureValidation)).Inc()
		return nil, &SwapError{Kind: models.FailureValidation, Err: err}
	}

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := s.cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(baseDelay))

	var (
		attempts int
		result   *faceswap.Result
		lastKind models.FailureKind
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeoutFor(kind))
		defer cancel()

		res, err := call(attemptCtx)
		if err == nil {
			metrics.UpstreamAttempts.WithLabelValues(string(kind), "success").Inc()
			result = res
			return nil
		}
		lastKind = faceswap.KindOf(err)
		metrics.UpstreamAttempts.WithLabelValues(string(kind), string(lastKind)).Inc()
		s.log.Warn("swap attempt failed",
			"telegram_id", telegramID,
			"kind", kind,
			"attempt", attempts,
			"failure", lastKind,
			logger.Err(err),
		)
		if lastKind.Retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		failure := lastKind
		if failure == "" {
			failure = models.FailureUpstreamUnavailable
		}
		metrics.SwapsTotal.WithLabelValues(string(kind), string(failure)).Inc()
		return nil, &SwapError{Kind: failure, Attempts: attempts, Err: err}
	}

	user, decision, err := s.quota.Commit(ctx, telegramID, kind)
	if err != nil {
		failure := FailureOf(err)
		metrics.SwapsTotal.WithLabelValues(string(kind), string(failure)).Inc()
		return nil, &SwapError{Kind: failure, Attempts: attempts, Err: err}
	}
	metrics.SwapsTotal.WithLabelValues(string(kind), "success").Inc()

	if s.logs != nil {
		entry := models.SwapLog{UserID: user.ID, Kind: kind, Quality: ent.Quality, CreatedAt: time.Now().UTC()}
		if err := s.logs.Log(ctx, entry); err != nil {
			s.log.Warn("record swap log", "telegram_id", telegramID, logger.Err(err))
		}
	}

	return &SwapResult{
		Kind:      kind,
		Quality:   ent.Quality,
		Data:      result.Data,
		MimeType:  result.MimeType,
		Attempts:  attempts,
		Remaining: decision.Remaining,
	}, nil
}

func (s *SwapService) callFor(inputs *session.Inputs, ent quota.Entitlement) (func(context.Context) (*faceswap.Result, error), error) {
	switch inputs.Kind {
	case models.SwapImage:
		if len(inputs.SourceImage) == 0 || len(inputs.TargetImage) == 0 {
			return nil, fmt.Errorf("image swap needs source and target")
		}
		req := faceswap.ImageRequest{
			Source:  inputs.SourceImage,
			Target:  inputs.TargetImage,
			Enhance: ent.Quality == models.QualityHD,
		}
		return func(ctx context.Context) (*faceswap.Result, error) { return s.client.SwapImage(ctx, req) }, nil
	case models.SwapVideo:
		if len(inputs.Video) == 0 || len(inputs.FaceImage) == 0 {
			return nil, fmt.Errorf("video swap needs video and face")
		}
		req := faceswap.VideoRequest{
			Video:   inputs.Video,
			Face:    inputs.FaceImage,
			Quality: ent.Quality,
		}
		return func(ctx context.Context) (*faceswap.Result, error) { return s.client.SwapVideo(ctx, req) }, nil
	default:
		return nil, fmt.Errorf("unsupported swap kind: %q", inputs.Kind)
	}
}

func (s *SwapService) timeoutFor(kind models.SwapKind) time.Duration {
	if kind == models.SwapVideo {
		if s.cfg.VideoTimeout > 0 {
			return s.cfg.VideoTimeout
		}
		return 10 * time.Minute
	}
	if s.cfg.ImageTimeout > 0 {
		return s.cfg.ImageTimeout
	}
	return time.Minute
}
