package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Telegram intake modes.
const (
	TelegramPolling = "polling"
	TelegramWebhook = "webhook"
)

// Config aggregates runtime configuration sourced from the environment.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	BackendURL     string
	BackendTimeout time.Duration
	PaymentMethod  string
	ImageDir       string

	TelegramToken         string
	TelegramMode          string
	TelegramPollTimeout   int
	TelegramWebhookURL    string
	TelegramWebhookSecret string
	TelegramDebug         bool

	WhatsAppEnabled   bool
	WhatsAppStorePath string
	WhatsAppLogLevel  string
	WhatsAppQRPath    string

	SessionStore string
	SessionTTL   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string
}

// TelegramEnabled reports whether a bot token was supplied.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

// Load reads configuration from environment variables, applying defaults and validation.
// Blank variables count as unset.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(".", env.Opt{TransformFunc: trimEnv}), nil); err != nil {
		return Config{}, fmt.Errorf("load env variables: %w", err)
	}
	src := source{k: k}

	cfg := Config{
		AppEnv:                src.text("APP_ENV", "development"),
		LogLevel:              src.text("LOG_LEVEL", "info"),
		LogFormat:             src.text("LOG_FORMAT", "text"),
		BackendURL:            strings.TrimRight(src.text("BACKEND_URL", "http://localhost:3000/api"), "/"),
		PaymentMethod:         src.text("PAYMENT_METHOD", "CARD"),
		ImageDir:              src.text("PRODUCT_IMAGE_DIR", "."),
		TelegramToken:         src.text("TELEGRAM_BOT_TOKEN", ""),
		TelegramMode:          strings.ToLower(src.text("TELEGRAM_MODE", TelegramPolling)),
		TelegramWebhookURL:    src.text("TELEGRAM_WEBHOOK_URL", ""),
		TelegramWebhookSecret: src.text("TELEGRAM_WEBHOOK_SECRET", ""),
		WhatsAppStorePath:     src.text("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:      src.text("WHATSAPP_LOG_LEVEL", "WARN"),
		WhatsAppQRPath:        src.text("WHATSAPP_QR_PATH", ""),
		SessionStore:          strings.ToLower(src.text("SESSION_STORE", StoreMemory)),
		RedisAddr:             src.text("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         src.text("REDIS_PASSWORD", ""),
		DatabaseURL:           src.text("DATABASE_URL", ""),
		DatabaseSchema:        src.text("DATABASE_SCHEMA", ""),
		SQLitePath:            src.text("SQLITE_PATH", "data/shopbot.db"),
		HTTPListenAddr:        src.text("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:        src.text("PUBLIC_BASE_PATH", ""),
		MetricsNamespace:      src.text("METRICS_NAMESPACE", "shopbot"),
	}

	var err error
	if cfg.BackendTimeout, err = src.duration("BACKEND_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, errors.New("BACKEND_TIMEOUT must be > 0")
	}
	if cfg.SessionTTL, err = src.duration("SESSION_TTL", 0); err != nil {
		return Config{}, err
	}
	if cfg.TelegramPollTimeout, err = src.integer("TELEGRAM_POLL_TIMEOUT", 60); err != nil {
		return Config{}, err
	}
	if cfg.TelegramDebug, err = src.boolean("TELEGRAM_DEBUG", false); err != nil {
		return Config{}, err
	}
	if cfg.WhatsAppEnabled, err = src.boolean("WHATSAPP_ENABLED", false); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = src.integer("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.RedisTLS, err = src.boolean("REDIS_TLS", false); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BackendURL == "" {
		return errors.New("BACKEND_URL must not be empty")
	}
	if !c.TelegramEnabled() && !c.WhatsAppEnabled {
		return errors.New("no transport enabled: set TELEGRAM_BOT_TOKEN or WHATSAPP_ENABLED=true")
	}
	switch c.TelegramMode {
	case TelegramPolling:
	case TelegramWebhook:
		if c.TelegramEnabled() && c.TelegramWebhookURL == "" {
			return errors.New("TELEGRAM_WEBHOOK_URL is required when TELEGRAM_MODE=webhook")
		}
	default:
		return fmt.Errorf("unsupported TELEGRAM_MODE %q", c.TelegramMode)
	}
	switch c.SessionStore {
	case StoreMemory, StoreRedis, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when SESSION_STORE=postgres")
		}
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}
	if c.TelegramPollTimeout < 0 {
		return errors.New("TELEGRAM_POLL_TIMEOUT must be >= 0")
	}
	if c.SessionTTL < 0 {
		return errors.New("SESSION_TTL must be >= 0")
	}
	return nil
}

// trimEnv drops blank variables so defaults apply to them.
func trimEnv(key, value string) (string, any) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	return key, value
}

// source reads typed values out of the loaded environment.
type source struct {
	k *koanf.Koanf
}

func (s source) text(key, fallback string) string {
	if v := strings.TrimSpace(s.k.String(key)); v != "" {
		return v
	}
	return fallback
}

func (s source) integer(key string, fallback int) (int, error) {
	v := s.text(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func (s source) boolean(key string, fallback bool) (bool, error) {
	v := s.text(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// duration accepts Go duration strings ("15s") or a bare number of seconds.
func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.text(key, "")
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
