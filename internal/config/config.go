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
)

// Config holds all configuration required by the gateway process.
// All values come from env. An optional env file (ENV_FILE, default .env) is
// loaded first; variables already present in the environment win.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Media    MediaConfig
	Realtime RealtimeConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// ProviderConfig points at the remote telephony provider API.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// WebhookSecret signs inbound provider webhooks (HMAC-SHA256 of the body).
	WebhookSecret string
}

type MediaConfig struct {
	SignalingURL string

	// DefaultTransport is used when a call request does not name one: direct or carrier.
	DefaultTransport string

	// MaxSessions caps concurrent direct sessions per principal. 0 disables the cap.
	MaxSessions int
}

type RealtimeConfig struct {
	// Channel is the Postgres NOTIFY channel fed by the row insert trigger.
	Channel string

	// RabbitURL enables forwarding of inbound events when set.
	RabbitURL   string
	RabbitQueue string

	DedupeTTL time.Duration
}

type TracingConfig struct {
	Enabled    bool
	Exporter   string // stdout or otlp
	Endpoint   string
	SampleRate float64
}

func Load() (Config, error) {
	loadEnvFile()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	{
		d, err := optionalDuration("JWT_ACCESS_TTL")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Auth.AccessTokenTTL = d
	}

	c.Provider.BaseURL = strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL"))
	c.Provider.APIKey = os.Getenv("PROVIDER_API_KEY")
	{
		d, err := optionalDuration("PROVIDER_TIMEOUT")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Provider.Timeout = d
	}
	c.Provider.WebhookSecret = os.Getenv("PROVIDER_WEBHOOK_SECRET")

	c.Media.SignalingURL = strings.TrimSpace(os.Getenv("MEDIA_SIGNALING_URL"))
	c.Media.DefaultTransport = strings.TrimSpace(os.Getenv("MEDIA_DEFAULT_TRANSPORT"))
	{
		n, err := optionalInt("MEDIA_MAX_SESSIONS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Media.MaxSessions = n
	}

	c.Realtime.Channel = strings.TrimSpace(os.Getenv("REALTIME_CHANNEL"))
	c.Realtime.RabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	c.Realtime.RabbitQueue = strings.TrimSpace(os.Getenv("RABBITMQ_QUEUE"))
	{
		d, err := optionalDuration("REALTIME_DEDUPE_TTL")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Realtime.DedupeTTL = d
	}

	c.Tracing.Enabled = strings.EqualFold(strings.TrimSpace(os.Getenv("OTEL_ENABLED")), "true")
	c.Tracing.Exporter = strings.TrimSpace(os.Getenv("OTEL_EXPORTER"))
	c.Tracing.Endpoint = strings.TrimSpace(os.Getenv("OTEL_ENDPOINT"))
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("OTEL_SAMPLE_RATE must be a number, got %q", v))
		}
		c.Tracing.SampleRate = f
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("PROVIDER_BASE_URL is required"))
	} else if !isHTTPURL(c.Provider.BaseURL) {
		errs = append(errs, fmt.Errorf("PROVIDER_BASE_URL must be an http(s) URL, got %q", c.Provider.BaseURL))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("PROVIDER_API_KEY is required"))
	}
	if c.IsProduction() && c.Provider.WebhookSecret == "" {
		errs = append(errs, errors.New("PROVIDER_WEBHOOK_SECRET is required in production"))
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 10 * time.Second
	}

	if c.Media.DefaultTransport == "" {
		c.Media.DefaultTransport = "direct"
	}
	switch c.Media.DefaultTransport {
	case "direct":
		if c.Media.SignalingURL == "" {
			errs = append(errs, errors.New("MEDIA_SIGNALING_URL is required when the default transport is direct"))
		}
	case "carrier":
	default:
		errs = append(errs, fmt.Errorf("MEDIA_DEFAULT_TRANSPORT must be one of direct, carrier, got %q", c.Media.DefaultTransport))
	}
	if c.Media.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("MEDIA_MAX_SESSIONS must be >= 0, got %d", c.Media.MaxSessions))
	}

	if c.Realtime.Channel == "" {
		c.Realtime.Channel = "row_inserts"
	}
	if c.Realtime.RabbitQueue == "" {
		c.Realtime.RabbitQueue = "gateway_inbound_events"
	}
	if c.Realtime.DedupeTTL <= 0 {
		c.Realtime.DedupeTTL = 10 * time.Minute
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "otlp" {
		errs = append(errs, fmt.Errorf("OTEL_EXPORTER must be one of stdout, otlp, got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 0.1
	}
	if c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATE must be within (0, 1], got %v", c.Tracing.SampleRate))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func loadEnvFile() {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	// godotenv.Load never overrides variables that are already set.
	_ = godotenv.Load(path)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

// optionalDuration returns 0 when key is unset, leaving the default to Validate.
func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 10s, got %q", key, v)
	}
	return d, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isHTTPURL(v string) bool {
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
