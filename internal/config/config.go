package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ModuleName identifies the gateway module when payments are recorded against an invoice.
const ModuleName = "razorpay"

// Gateway holds the parameters configured for the Razorpay gateway module.
type Gateway struct {
	KeyID          string
	KeySecret      string
	Active         bool
	WebhookEnabled bool
	WebhookSecret  string
	Name           string
	SystemURL      string
	CallbackURL    string
}

// InvoiceURL builds the client-facing invoice view link for the given invoice reference.
func (g Gateway) InvoiceURL(invoiceRef string) string {
	base := strings.TrimRight(strings.TrimSpace(g.SystemURL), "/")
	return base + "/viewinvoice.php?id=" + url.QueryEscape(strings.TrimSpace(invoiceRef))
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	SessionSecret      string
	SessionSecure      bool
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	Gateway Gateway

	RazorpayBaseURL     string
	RazorpayHTTPTimeout time.Duration
	CircuitMinRequests  int
	CircuitFailureRate  float64
	CircuitOpenFor      time.Duration

	WebhookReplayTTL    time.Duration
	WebhookInFlightTTL  time.Duration
	WebhookMaxBodyBytes int64
	ReconcileLockTTL    time.Duration
	LockRetryBackoff    time.Duration
	GatewayRateLimit    string

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	TracingEnabled   bool
	TracingExporter  string
	TracingEndpoint  string
	TracingSampling  float64
	ServiceName      string
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		SessionSecret:      k.String("SESSION_SECRET"),
		SessionSecure:      parseBool(k.String("SESSION_SECURE"), false),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START"), false),
		Gateway: Gateway{
			KeyID:          strings.TrimSpace(k.String("RAZORPAY_KEY_ID")),
			KeySecret:      strings.TrimSpace(k.String("RAZORPAY_KEY_SECRET")),
			Active:         parseBool(k.String("GATEWAY_ACTIVE"), true),
			WebhookEnabled: parseBool(k.String("RAZORPAY_WEBHOOK_ENABLED"), false),
			WebhookSecret:  strings.TrimSpace(k.String("RAZORPAY_WEBHOOK_SECRET")),
			Name:           valueOrDefault(k.String("GATEWAY_NAME"), "Razorpay"),
			SystemURL:      strings.TrimSpace(k.String("SYSTEM_URL")),
			CallbackURL:    strings.TrimSpace(k.String("RAZORPAY_CALLBACK_URL")),
		},
		RazorpayBaseURL:     valueOrDefault(k.String("RAZORPAY_API_BASE_URL"), "https://api.razorpay.com"),
		RazorpayHTTPTimeout: parseDuration(k.String("RAZORPAY_HTTP_TIMEOUT"), "0s"),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_RAZORPAY_MIN_REQUESTS"), 10),
		CircuitFailureRate:  parseFloat(k.String("CIRCUIT_RAZORPAY_FAILURE_RATE"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_RAZORPAY_OPEN_FOR"), "30s"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookInFlightTTL:  parseDuration(k.String("WEBHOOK_INFLIGHT_TTL"), "5m"),
		WebhookMaxBodyBytes: int64(parseInt(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20)),
		ReconcileLockTTL:    parseDuration(k.String("RECONCILE_LOCK_TTL"), "30s"),
		LockRetryBackoff:    parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		GatewayRateLimit:    valueOrDefault(k.String("GATEWAY_RATE_LIMIT"), "120-M"),
		LogFormat:           valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:            valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:    valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "gateway"),
		TracingEnabled:      parseBool(k.String("OBS_TRACING_ENABLED"), false),
		TracingExporter:     valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		TracingEndpoint:     strings.TrimSpace(k.String("OBS_TRACING_ENDPOINT")),
		TracingSampling:     parseFloat(k.String("OBS_TRACING_SAMPLE_RATIO"), 1),
		ServiceName:         valueOrDefault(k.String("OBS_SERVICE_NAME"), "razorpay-gateway"),
		PprofEnabled:        parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:           strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:           strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("SESSION_SECRET is required")
	}
	if cfg.Gateway.SystemURL == "" {
		return nil, errors.New("SYSTEM_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// parseBool accepts the usual truthy spellings plus "on", which is how the
// gateway settings screen stores checkbox values.
func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
