package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	// OperatorAPIToken guards the operator routes. Empty disables the
	// check outside production.
	OperatorAPIToken string
	// ServicePrincipal names the elevated credential used for onboarding
	// and webhook writes.
	ServicePrincipal string

	LogLevel  string
	LogFormat string
	Tracing   TracingConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	InvitePolicyPath string

	Stripe     StripeConfig
	Identity   IdentityConfig
	Email      EmailConfig
	Onboarding OnboardingConfig
	Reconcile  ReconcileConfig
}

// TracingConfig selects the OTLP exporter. Tracing stays off unless Enabled
// is set and an endpoint is known.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Protocol    string
	SampleRatio float64
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ProductID     string
	Currency      string
	// APIURL overrides the Stripe API base URL (stripe-mock, local fakes).
	APIURL string
}

type IdentityConfig struct {
	Provider       string
	URL            string
	ServiceRoleKey string
	RedirectURL    string
	MaxRetries     int
	RetryInterval  time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
}

type OnboardingConfig struct {
	BaseURL               string
	DefaultStorageLimitGB int
	ExternalCallTimeout   time.Duration
}

type ReconcileConfig struct {
	Enabled             bool
	Schedule            string
	GracePeriod         time.Duration
	AbandonAfter        time.Duration
	RunTimeout          time.Duration
	LockTTL             time.Duration
	BatchSize           int
	MaxCheckoutAttempts int
	MaxInviteAttempts   int
}

const (
	IdentityProviderGoTrue = "gotrue"
	IdentityProviderSMTP   = "smtp"
	IdentityProviderNoop   = "noop"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "clubhouse"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      getenv("ENVIRONMENT", "development"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		NodeID:           getenvInt64("NODE_ID", 1),
		OperatorAPIToken: strings.TrimSpace(getenv("OPERATOR_API_TOKEN", "")),
		ServicePrincipal: strings.TrimSpace(getenv("SERVICE_PRINCIPAL", "clubhouse-onboarding")),
		LogLevel:         strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getenv("LOG_FORMAT", "json")),
		Tracing: TracingConfig{
			Enabled:     getenvBool("OTEL_ENABLED", false),
			Endpoint:    strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			Protocol:    strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SampleRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "clubhouse"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		InvitePolicyPath: strings.TrimSpace(getenv("INVITE_POLICY_PATH", "")),

		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			ProductID:     strings.TrimSpace(getenv("STRIPE_PRODUCT_ID", "")),
			Currency:      strings.ToLower(getenv("STRIPE_CURRENCY", "usd")),
			APIURL:        strings.TrimSpace(getenv("STRIPE_API_URL", "")),
		},
		Identity: IdentityConfig{
			Provider:       strings.ToLower(getenv("IDENTITY_PROVIDER", IdentityProviderNoop)),
			URL:            strings.TrimRight(strings.TrimSpace(getenv("IDENTITY_URL", "")), "/"),
			ServiceRoleKey: strings.TrimSpace(getenv("IDENTITY_SERVICE_ROLE_KEY", "")),
			RedirectURL:    strings.TrimSpace(getenv("IDENTITY_REDIRECT_URL", "")),
			MaxRetries:     getenvInt("IDENTITY_MAX_RETRIES", 3),
			RetryInterval:  getenvDuration("IDENTITY_RETRY_INTERVAL", 500*time.Millisecond),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			From:         getenv("SMTP_FROM", "no-reply@clubhouse.local"),
		},
		Onboarding: OnboardingConfig{
			BaseURL:               strings.TrimSpace(getenv("APP_BASE_URL", "http://localhost:3000")),
			DefaultStorageLimitGB: getenvInt("DEFAULT_STORAGE_LIMIT_GB", 1),
			ExternalCallTimeout:   getenvDuration("EXTERNAL_CALL_TIMEOUT", 10*time.Second),
		},
		Reconcile: ReconcileConfig{
			Enabled:             getenvBool("RECONCILE_ENABLED", true),
			Schedule:            getenv("RECONCILE_SCHEDULE", "@every 5m"),
			GracePeriod:         getenvDuration("RECONCILE_GRACE_PERIOD", 15*time.Minute),
			AbandonAfter:        getenvDuration("RECONCILE_ABANDON_AFTER", 72*time.Hour),
			RunTimeout:          getenvDuration("RECONCILE_RUN_TIMEOUT", 2*time.Minute),
			LockTTL:             getenvDuration("RECONCILE_LOCK_TTL", 5*time.Minute),
			BatchSize:           getenvInt("RECONCILE_BATCH_SIZE", 50),
			MaxCheckoutAttempts: getenvInt("RECONCILE_MAX_CHECKOUT_ATTEMPTS", 5),
			MaxInviteAttempts:   getenvInt("RECONCILE_MAX_INVITE_ATTEMPTS", 5),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
