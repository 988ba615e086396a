/*
Package config loads server configuration.

PRECEDENCE (lowest to highest):
  1. Built-in defaults
  2. .env file in the working directory (optional, never overrides the
     real environment)
  3. Environment variables
  4. Command-line flags (-port, -db)

PAYMENTS:
  Without STRIPE_SECRET_KEY the server runs with payments disabled: every
  reservation that needs a hold ends AuthorizationFailed.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	DBPath   string
	LogLevel string

	// FrontendURL prefixes guest access links.
	FrontendURL string
	CORSOrigins []string

	Currency       string
	GatewayTimeout time.Duration
	SetupTimeout   time.Duration
	SweepInterval  time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	// SequenceBackend is "sqlite" or "redis".
	SequenceBackend string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	RabbitMQURL string
	NotifyQueue string

	// AdminJWTSecret enables bearer auth on admin routes when set.
	AdminJWTSecret string
}

func (c Config) PaymentsEnabled() bool { return c.StripeSecretKey != "" }

func (c Config) IsProduction() bool { return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production") }

// Load reads .env (if present), the environment and then args. args are
// the command-line arguments without the program name.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(args)
}

// FromEnv is Load without the .env file.
func FromEnv(args []string) (Config, error) {
	var errs []error
	c := Config{
		Env:         envStr("APP_ENV", "dev"),
		Port:        envInt("APP_PORT", 8080, &errs),
		DBPath:      envStr("DB_PATH", "reservations.db"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		FrontendURL: strings.TrimRight(envStr("FRONTEND_URL", "http://localhost:8080"), "/"),
		CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),

		Currency:       strings.ToLower(envStr("CURRENCY", "rwf")),
		GatewayTimeout: envDur("GATEWAY_TIMEOUT", 10*time.Second, &errs),
		SetupTimeout:   envDur("SETUP_TIMEOUT", 30*time.Minute, &errs),
		SweepInterval:  envDur("SWEEP_INTERVAL", time.Minute, &errs),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:  os.Getenv("CHECKOUT_SUCCESS_URL"),
		CheckoutCancelURL:   os.Getenv("CHECKOUT_CANCEL_URL"),

		SequenceBackend: strings.ToLower(envStr("SEQUENCE_BACKEND", "sqlite")),
		RedisAddr:       envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0, &errs),

		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		NotifyQueue: envStr("NOTIFY_QUEUE", "booking.notifications"),

		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&c.Port, "port", c.Port, "HTTP server port")
	fs.StringVar(&c.DBPath, "db", c.DBPath, `SQLite database path (":memory:" for in-memory)`)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if c.CheckoutSuccessURL == "" {
		c.CheckoutSuccessURL = c.FrontendURL + "/html/booking-success.html"
	}
	if c.CheckoutCancelURL == "" {
		c.CheckoutCancelURL = c.FrontendURL + "/html/booking-canceled.html"
	}
	if err := c.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.SequenceBackend {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("SEQUENCE_BACKEND must be sqlite or redis, got %q", c.SequenceBackend))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.SetupTimeout <= 0 {
		errs = append(errs, errors.New("SETUP_TIMEOUT must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.PaymentsEnabled() && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required with STRIPE_SECRET_KEY"))
	}
	return errors.Join(errs...)
}

// =============================================================================
// ENV HELPERS
// =============================================================================

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid int for %s: %q", key, v))
		return def
	}
	return n
}

func envDur(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid duration for %s: %q", key, v))
		return def
	}
	return d
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
