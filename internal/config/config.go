package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMySQL = "mysql"
	StoreMongo = "mongo"
	StoreFile  = "file"
)

// Limits is the entitlement for one tier.
type Limits struct {
	DailyImageSwaps  int
	DailyVideoSwaps  int
	MaxFileSize      int64
	MaxVideoDuration time.Duration
}

// PlanSpec is a premium plan seeded into the plan store on startup.
type PlanSpec struct {
	Code            string
	Title           string
	DurationDays    int
	PriceMinorUnits int
}

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken string
	LogLevel string

	StoreDriver   string
	MySQLDSN      string
	MongoURI      string
	MongoDatabase string
	UsersFile     string

	FaceSwapAPIKey      string
	FaceSwapBaseURL     string
	FaceSwapAPIHost     string
	FaceSwapImagePath   string
	FaceSwapVideoPath   string
	ImageTimeout        time.Duration
	VideoTimeout        time.Duration
	MaxAttempts         int
	RetryBaseDelay      time.Duration
	FreeLimits          Limits
	PremiumLimits       Limits
	SessionTTL          time.Duration
	UserEventsPerSecond float64
	UserEventBurst      int
	OperatorChatIDs     []int64

	PremiumPlans                 []PlanSpec
	TelegramPaymentProviderToken string
	PaymentCurrency              string
	PaymentProvider              string
	YooKassaShopID               string
	YooKassaSecretKey            string
	YooKassaReturnURL            string
	YooKassaAPIURL               string

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// ArchiveEnabled reports whether swap results should be copied to object storage.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

const defaultPlans = "week:Premium week:7:14900,month:Premium month:30:39900"

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultBaseURL = "https://face-swap1.p.rapidapi.com"

	cfg := Config{
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", StoreFile)),
		MongoDatabase:     getEnv("MONGO_DATABASE", "faceswap"),
		UsersFile:         getEnv("USERS_FILE", filepath.Join("data", "users.json")),
		FaceSwapBaseURL:   normalizeBaseURL(getEnv("FACESWAP_BASE_URL", defaultBaseURL), defaultBaseURL),
		FaceSwapImagePath: getEnv("FACESWAP_IMAGE_PATH", "/faceswap"),
		FaceSwapVideoPath: getEnv("FACESWAP_VIDEO_PATH", "/videoswap"),
		ImageTimeout:      time.Second * time.Duration(getInt("FACESWAP_IMAGE_TIMEOUT_SECONDS", 60)),
		VideoTimeout:      time.Second * time.Duration(getInt("FACESWAP_VIDEO_TIMEOUT_SECONDS", 600)),
		MaxAttempts:       getInt("FACESWAP_MAX_ATTEMPTS", 3),
		RetryBaseDelay:    time.Millisecond * time.Duration(getInt("FACESWAP_RETRY_BASE_DELAY_MS", 1000)),
		FreeLimits: Limits{
			DailyImageSwaps:  getInt("FREE_DAILY_IMAGE_SWAPS", 3),
			DailyVideoSwaps:  getInt("FREE_DAILY_VIDEO_SWAPS", 1),
			MaxFileSize:      int64(getInt("FREE_MAX_FILE_SIZE_MB", 20)) << 20,
			MaxVideoDuration: time.Second * time.Duration(getInt("FREE_MAX_VIDEO_SECONDS", 30)),
		},
		PremiumLimits: Limits{
			DailyImageSwaps:  getInt("PREMIUM_DAILY_IMAGE_SWAPS", 999),
			DailyVideoSwaps:  getInt("PREMIUM_DAILY_VIDEO_SWAPS", 999),
			MaxFileSize:      int64(getInt("PREMIUM_MAX_FILE_SIZE_MB", 50)) << 20,
			MaxVideoDuration: time.Second * time.Duration(getInt("PREMIUM_MAX_VIDEO_SECONDS", 600)),
		},
		SessionTTL:          time.Minute * time.Duration(getInt("SESSION_TTL_MINUTES", 30)),
		UserEventsPerSecond: getFloat("USER_EVENTS_PER_SECOND", 1),
		UserEventBurst:      getInt("USER_EVENT_BURST", 5),
		PaymentCurrency:     getEnv("PAYMENT_CURRENCY", "RUB"),
		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", "telegram")),
		YooKassaShopID:      getEnv("YOOKASSA_SHOP_ID", ""),
		YooKassaSecretKey:   getEnv("YOOKASSA_SECRET_KEY", ""),
		YooKassaReturnURL:   getEnv("YOOKASSA_RETURN_URL", ""),
		YooKassaAPIURL:      strings.TrimRight(getEnv("YOOKASSA_API_URL", "https://api.yookassa.ru/v3/payments"), "/"),
		AdminListenAddr:     getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "results"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.MongoURI = os.Getenv("MONGO_URI")
	cfg.FaceSwapAPIKey = os.Getenv("FACESWAP_API_KEY")
	cfg.FaceSwapAPIHost = getEnv("FACESWAP_API_HOST", hostOf(cfg.FaceSwapBaseURL))
	cfg.TelegramPaymentProviderToken = os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN")

	ids, err := parseChatIDs(os.Getenv("OPERATOR_CHAT_IDS"))
	if err != nil {
		return Config{}, fmt.Errorf("OPERATOR_CHAT_IDS: %w", err)
	}
	cfg.OperatorChatIDs = ids

	plans, err := ParsePlans(getEnv("PREMIUM_PLANS", defaultPlans))
	if err != nil {
		return Config{}, fmt.Errorf("PREMIUM_PLANS: %w", err)
	}
	cfg.PremiumPlans = plans

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.FaceSwapAPIKey == "" {
		missing = append(missing, "FACESWAP_API_KEY")
	}
	switch cfg.StoreDriver {
	case StoreMySQL:
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case StoreFile:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER: %s", cfg.StoreDriver)
	}
	switch cfg.PaymentProvider {
	case "telegram":
		if cfg.TelegramPaymentProviderToken == "" {
			missing = append(missing, "TELEGRAM_PAYMENT_PROVIDER_TOKEN")
		}
	case "yookassa":
		if cfg.YooKassaShopID == "" {
			missing = append(missing, "YOOKASSA_SHOP_ID")
		}
		if cfg.YooKassaSecretKey == "" {
			missing = append(missing, "YOOKASSA_SECRET_KEY")
		}
	}
	if cfg.ArchiveEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return cfg, nil
}

// ParsePlans parses "code:title:days:price" entries separated by commas.
func ParsePlans(raw string) ([]PlanSpec, error) {
	var plans []PlanSpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("plan %q: want code:title:days:price", entry)
		}
		days, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("plan %q: invalid days", entry)
		}
		price, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("plan %q: invalid price", entry)
		}
		plans = append(plans, PlanSpec{
			Code:            strings.TrimSpace(parts[0]),
			Title:           strings.TrimSpace(parts[1]),
			DurationDays:    days,
			PriceMinorUnits: price,
		})
	}
	return plans, nil
}

// normalizeBaseURL adds a scheme when missing and strips the trailing slash.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return fallback
	}

	return strings.TrimRight(parsed.String(), "/")
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Host
}

func parseChatIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads the first env file found. Running without one is fine,
// the process environment is used as is.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
