package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

var defaultModels = []string{
	"gemini-2.0-flash-lite",
	"gemini-2.0-flash",
	"gemini-2.5-flash-lite",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	TelegramBotToken string
	WebhookURL       string

	GeminiAPIKey  string
	Models        []string // порядок = приоритет фоллбэка
	OpenAIAPIKey  string
	OpenAIBaseURL string

	MaxImageSizeMB    float64
	ImageMaxDimension int
	ImageQuality      int
	ImageOutputFormat string

	SessionTTL      time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int

	MaxRequestsPerHour int

	APIMaxRetries    int
	APIRetryDelay    time.Duration
	ModelCallTimeout time.Duration
	DownloadTimeout  time.Duration

	StoreBackend string
	DatabaseURL  string

	DirectDiagnosis  bool
	ResponseLanguage string

	// APIKey включает POST /v1/diagnose; пустой - эндпоинт выключен.
	APIKey string
}

// MaxImageSizeBytes - лимит на размер входной и выходной картинки.
func (c *Config) MaxImageSizeBytes() int {
	return int(c.MaxImageSizeMB * 1024 * 1024)
}

func (c *Config) IsProduction() bool { return c.Environment == "prod" }

// Load читает окружение (и .env, если он есть) и валидирует значения.
// Все ошибки собираются в одну, чтобы при старте было видно сразу всё.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	l := loader{getenv: getenv}

	cfg := &Config{
		Port:        l.getStr("PORT", "8080"),
		Environment: strings.ToLower(l.getStr("ENVIRONMENT", "dev")),
		LogLevel:    strings.ToLower(l.getStr("LOG_LEVEL", "info")),

		TelegramBotToken: l.mustStr("TELEGRAM_BOT_TOKEN"),
		WebhookURL:       l.getStr("WEBHOOK_URL", ""),

		GeminiAPIKey:  l.getStr("GEMINI_API_KEY", ""),
		Models:        l.getList("GEMINI_MODELS", defaultModels),
		OpenAIAPIKey:  l.getStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL: l.getStr("OPENAI_BASE_URL", ""),

		MaxImageSizeMB:    l.getFloat("MAX_IMAGE_SIZE_MB", 5),
		ImageMaxDimension: l.getInt("IMAGE_MAX_DIMENSION", 1024),
		ImageQuality:      l.getInt("IMAGE_QUALITY", 85),
		ImageOutputFormat: strings.ToLower(l.getStr("IMAGE_OUTPUT_FORMAT", FormatJPEG)),

		SessionTTL:      time.Duration(l.getInt("USER_STATE_EXPIRY_HOURS", 1)) * time.Hour,
		CacheTTL:        time.Duration(l.getInt("CACHE_EXPIRY_HOURS", 24)) * time.Hour,
		CacheMaxEntries: l.getInt("CACHE_MAX_ENTRIES", 1024),

		MaxRequestsPerHour: l.getInt("MAX_REQUESTS_PER_HOUR", 30),

		APIMaxRetries:    l.getInt("API_MAX_RETRIES", 3),
		APIRetryDelay:    time.Duration(l.getFloat("API_RETRY_DELAY", 1.0) * float64(time.Second)),
		ModelCallTimeout: l.getDuration("MODEL_CALL_TIMEOUT", 30*time.Second),
		DownloadTimeout:  l.getDuration("DOWNLOAD_TIMEOUT", 30*time.Second),

		StoreBackend: strings.ToLower(l.getStr("STORE_BACKEND", BackendMemory)),

		DirectDiagnosis:  l.getBool("DIRECT_DIAGNOSIS", false),
		ResponseLanguage: l.getStr("RESPONSE_LANGUAGE", "English"),

		APIKey: l.getStr("API_KEY", ""),
	}
	if cfg.StoreBackend == BackendPostgres {
		cfg.DatabaseURL = resolveDSN(getenv)
	}

	l.errs = append(l.errs, cfg.validate()...)
	if len(l.errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(l.errs...))
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Environment {
	case "dev", "staging", "prod":
	default:
		bad("ENVIRONMENT must be dev|staging|prod, got %q", c.Environment)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		bad("LOG_LEVEL %q is not supported", c.LogLevel)
	}
	if c.GeminiAPIKey == "" && c.OpenAIAPIKey == "" {
		bad("GEMINI_API_KEY or OPENAI_API_KEY must be set")
	}
	if len(c.Models) == 0 {
		bad("GEMINI_MODELS must list at least one model")
	}
	if c.MaxImageSizeMB <= 0 || c.MaxImageSizeMB > 20 {
		bad("MAX_IMAGE_SIZE_MB must be in (0, 20], got %v", c.MaxImageSizeMB)
	}
	if c.ImageMaxDimension < 16 {
		bad("IMAGE_MAX_DIMENSION must be >= 16, got %d", c.ImageMaxDimension)
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		bad("IMAGE_QUALITY must be in [1, 100], got %d", c.ImageQuality)
	}
	if c.ImageOutputFormat != FormatJPEG && c.ImageOutputFormat != FormatWebP {
		bad("IMAGE_OUTPUT_FORMAT must be jpeg|webp, got %q", c.ImageOutputFormat)
	}
	if c.SessionTTL < time.Hour {
		bad("USER_STATE_EXPIRY_HOURS must be >= 1")
	}
	if c.CacheTTL < time.Hour {
		bad("CACHE_EXPIRY_HOURS must be >= 1")
	}
	if c.CacheMaxEntries < 1 {
		bad("CACHE_MAX_ENTRIES must be >= 1")
	}
	if c.MaxRequestsPerHour < 1 {
		bad("MAX_REQUESTS_PER_HOUR must be >= 1")
	}
	if c.APIMaxRetries < 1 {
		bad("API_MAX_RETRIES must be >= 1")
	}
	if c.APIRetryDelay <= 0 {
		bad("API_RETRY_DELAY must be > 0")
	}
	if c.ModelCallTimeout <= 0 || c.DownloadTimeout <= 0 {
		bad("MODEL_CALL_TIMEOUT and DOWNLOAD_TIMEOUT must be > 0")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			bad("database DSN is empty: set DATABASE_URL or POSTGRES_* env vars")
		}
	default:
		bad("STORE_BACKEND must be memory|postgres, got %q", c.StoreBackend)
	}
	return errs
}

type loader struct {
	getenv func(string) string
	errs   []error
}

func (l *loader) getStr(k, def string) string {
	if v := strings.TrimSpace(l.getenv(k)); v != "" {
		return v
	}
	return def
}

func (l *loader) mustStr(k string) string {
	v := strings.TrimSpace(l.getenv(k))
	if v == "" {
		l.errs = append(l.errs, fmt.Errorf("missing required env %s", k))
	}
	return v
}

func (l *loader) getInt(k string, def int) int {
	v := strings.TrimSpace(l.getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (l *loader) getFloat(k string, def float64) float64 {
	v := strings.TrimSpace(l.getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return f
}

func (l *loader) getBool(k string, def bool) bool {
	v := strings.TrimSpace(l.getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

// getDuration принимает "30s"/"1m" или просто число секунд.
func (l *loader) getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(l.getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	l.errs = append(l.errs, fmt.Errorf("%s: bad duration %q", k, v))
	return def
}

func (l *loader) getList(k string, def []string) []string {
	v := strings.TrimSpace(l.getenv(k))
	if v == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func resolveDSN(getenv func(string) string) string {
	if v := strings.TrimSpace(getenv("DATABASE_URL")); v != "" {
		return v
	}
	def := func(k, d string) string {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return v
		}
		return d
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(def("POSTGRES_USER", "plantdoc"), getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(def("PGHOST", "db"), def("PGPORT", "5432")),
		Path:     "/" + def("POSTGRES_DB", "plantdoc"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SafeDSNSummary - DSN без пароля, для логов.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	host, port := u.Host, ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, u.User.Username())
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, u.User.Username())
}
