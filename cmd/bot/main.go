package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/faceswapbot/internal/admin"
	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/database"
	"github.com/digkill/faceswapbot/internal/faceswap"
	"github.com/digkill/faceswapbot/internal/keylock"
	"github.com/digkill/faceswapbot/internal/quota"
	"github.com/digkill/faceswapbot/internal/repository"
	"github.com/digkill/faceswapbot/internal/service"
	"github.com/digkill/faceswapbot/internal/session"
	"github.com/digkill/faceswapbot/internal/storage"
	"github.com/digkill/faceswapbot/internal/telegram"
	"github.com/digkill/faceswapbot/pkg/logger"
)

type stores struct {
	users    repository.UserStore
	plans    repository.PlanStore
	payments repository.PaymentStore
	swapLogs repository.SwapLogStore
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	locks := keylock.New()
	rules := quota.Rules{Free: cfg.FreeLimits, Premium: cfg.PremiumLimits}

	quotaService := service.NewQuotaService(st.users, rules, locks, logr)
	subscriptionService := service.NewSubscriptionService(st.users, locks, logr)
	planService := service.NewPlanService(cfg, st.plans)
	paymentService := service.NewPaymentService(cfg, logr, st.payments, planService, subscriptionService)
	swapService := service.NewSwapService(cfg, logr, faceswap.NewClient(cfg, logr), quotaService, st.swapLogs)
	logr.Info("faceswap client configured",
		"base_url", cfg.FaceSwapBaseURL,
		"host", cfg.FaceSwapAPIHost,
		logger.Secret("api_key", cfg.FaceSwapAPIKey),
		"max_attempts", cfg.MaxAttempts,
	)

	if err := planService.EnsureDefaultPlans(ctx); err != nil {
		log.Fatalf("ensure default plans: %v", err)
	}

	deps := telegram.Deps{
		Quota:    quotaService,
		Swaps:    swapService,
		Plans:    planService,
		Payments: paymentService,
		Sessions: session.NewTracker(cfg.SessionTTL),
	}
	if cfg.ArchiveEnabled() {
		archive, err := storage.NewArchive(cfg)
		if err != nil {
			log.Fatalf("storage archive: %v", err)
		}
		deps.Archive = archive
	}

	bot := telegram.NewBot(cfg, botAPI, logr, deps)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, admin.Deps{
		Users:         st.users,
		Quota:         quotaService,
		Subscriptions: subscriptionService,
		Plans:         planService,
		Payments:      paymentService,
		SwapLogs:      st.swapLogs,
		Messenger:     bot,
	})
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", logger.Err(err))
		}
	}()

	logr.Info("bot started", "username", botAPI.Self.UserName, "store", cfg.StoreDriver)
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", logger.Err(err))
	}
}

// openStores wires the user store selected by STORE_DRIVER. Plans, payments
// and swap logs live in MySQL when it is the driver and in memory otherwise.
func openStores(ctx context.Context, cfg config.Config, logr *slog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err := database.Connect(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return mysqlStores(db), nil
	case config.StoreMongo:
		users, err := repository.NewMongoUserStore(ctx, cfg.MongoURI, cfg.MongoDatabase, logr)
		if err != nil {
			return nil, err
		}
		st := memoryStores(users)
		st.close = func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := users.Close(closeCtx); err != nil {
				logr.Warn("mongo disconnect", logger.Err(err))
			}
		}
		return st, nil
	default:
		users, err := repository.NewFileUserStore(cfg.UsersFile)
		if err != nil {
			return nil, err
		}
		return memoryStores(users), nil
	}
}

func mysqlStores(db *sql.DB) *stores {
	return &stores{
		users:    repository.NewUserRepository(db),
		plans:    repository.NewPlanRepository(db),
		payments: repository.NewPaymentRepository(db),
		swapLogs: repository.NewSwapLogRepository(db),
		close:    func() { db.Close() },
	}
}

func memoryStores(users repository.UserStore) *stores {
	return &stores{
		users:    users,
		plans:    repository.NewMemoryPlanStore(),
		payments: repository.NewMemoryPaymentStore(),
		swapLogs: repository.NewMemorySwapLogStore(),
		close:    func() {},
	}
}
