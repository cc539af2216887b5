package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetInt64Env returns an int64 environment variable or a default value.
func GetInt64Env(key string, defaultVal int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetBoolEnv returns a bool environment variable or a default value.
func GetBoolEnv(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// GetDurationEnv reads a Go duration string such as "30s" or "5m".
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// GetListEnv splits a comma separated variable, dropping empty items.
func GetListEnv(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// IsProduction checks if the app runs in production mode.
func IsProduction() bool {
	return GetEnv("ENV", "development") == "production"
}

type ServerConfig struct {
	Port            string
	Env             string
	AllowedOrigins  string
	AuthRateLimit   int
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Startup connection supervisor.
	ConnectAttempts  int
	ConnectBaseDelay time.Duration
	ConnectMaxDelay  time.Duration
}

// DSN builds a postgres connection string in key=value form.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	AccessSecret        string
	RefreshSecret       string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Issuer              string
	RotateRefreshTokens bool
}

type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

type LedgerConfig struct {
	Currency          string
	LockTTL           time.Duration
	MinAmountMinor    int64
	MaxAmountMinor    int64
	PendingMaxAge     time.Duration
	HistoryPageSize   int
	// ReconcileInterval is how often the stale-pending sweep runs. Zero disables it.
	ReconcileInterval time.Duration
}

type VTUConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type GatewayConfig struct {
	Name          string
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	CallbackURL   string
	Timeout       time.Duration
	// VerifyEvents re-fetches each webhook's transaction before crediting.
	VerifyEvents bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Config is the full runtime configuration, read once at startup.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Ledger   LedgerConfig
	VTU      VTUConfig
	Gateway  GatewayConfig
	Kafka    KafkaConfig
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            GetEnv("PORT", "3000"),
			Env:             GetEnv("ENV", "development"),
			AllowedOrigins:  GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			AuthRateLimit:   GetIntEnv("AUTH_RATE_LIMIT", 10),
			ShutdownTimeout: GetDurationEnv("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:             GetEnv("DB_HOST", "localhost"),
			Port:             GetEnv("DB_PORT", "5432"),
			User:             GetEnv("DB_USER", "postgres"),
			Password:         GetEnv("DB_PASSWORD", "postgres"),
			Name:             GetEnv("DB_NAME", "vtupay"),
			SSLMode:          GetEnv("DB_SSLMODE", "disable"),
			MaxIdleConns:     GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:     GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime:  GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime:  GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
			ConnectAttempts:  GetIntEnv("DB_CONNECT_ATTEMPTS", 10),
			ConnectBaseDelay: GetDurationEnv("DB_CONNECT_BASE_DELAY", 500*time.Millisecond),
			ConnectMaxDelay:  GetDurationEnv("DB_CONNECT_MAX_DELAY", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			AccessSecret:        GetEnv("JWT_SECRET", ""),
			RefreshSecret:       GetEnv("REFRESH_SECRET", ""),
			AccessTTL:           GetDurationEnv("JWT_ACCESS_TTL", 24*time.Hour),
			RefreshTTL:          GetDurationEnv("JWT_REFRESH_TTL", 7*24*time.Hour),
			Issuer:              GetEnv("JWT_ISSUER", "vtupay-api"),
			RotateRefreshTokens: GetBoolEnv("JWT_ROTATE_REFRESH", true),
		},
		OTP: OTPConfig{
			TTL:         GetDurationEnv("OTP_TTL", 5*time.Minute),
			MaxAttempts: GetIntEnv("OTP_MAX_ATTEMPTS", 5),
		},
		Ledger: LedgerConfig{
			Currency:          GetEnv("LEDGER_CURRENCY", "NGN"),
			LockTTL:           GetDurationEnv("LEDGER_LOCK_TTL", 30*time.Second),
			MinAmountMinor:    GetInt64Env("LEDGER_MIN_AMOUNT_MINOR", 100),
			MaxAmountMinor:    GetInt64Env("LEDGER_MAX_AMOUNT_MINOR", 500_000_00),
			PendingMaxAge:     GetDurationEnv("LEDGER_PENDING_MAX_AGE", 10*time.Minute),
			HistoryPageSize:   GetIntEnv("LEDGER_HISTORY_PAGE_SIZE", 20),
			ReconcileInterval: GetDurationEnv("LEDGER_RECONCILE_INTERVAL", 5*time.Minute),
		},
		VTU: VTUConfig{
			Name:    GetEnv("VTU_PROVIDER", "otapay"),
			BaseURL: GetEnv("VTU_BASE_URL", "https://api.otapay.ng/v1"),
			APIKey:  GetEnv("VTU_API_KEY", ""),
			Timeout: GetDurationEnv("VTU_TIMEOUT", 20*time.Second),
		},
		Gateway: GatewayConfig{
			Name:          GetEnv("GATEWAY_PROVIDER", "paystack"),
			BaseURL:       GetEnv("GATEWAY_BASE_URL", "https://api.paystack.co"),
			SecretKey:     GetEnv("GATEWAY_SECRET_KEY", ""),
			WebhookSecret: GetEnv("GATEWAY_WEBHOOK_SECRET", GetEnv("GATEWAY_SECRET_KEY", "")),
			CallbackURL:   GetEnv("GATEWAY_CALLBACK_URL", ""),
			Timeout:       GetDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
			VerifyEvents:  GetBoolEnv("GATEWAY_VERIFY_EVENTS", true),
		},
		Kafka: KafkaConfig{
			Brokers: GetListEnv("KAFKA_BROKERS", nil),
			Topic:   GetEnv("KAFKA_NOTIFICATION_TOPIC", "vtupay.notifications"),
			GroupID: GetEnv("KAFKA_GROUP_ID", "vtupay-notifier"),
		},
	}
}

// Validate rejects configurations the ledger cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("REFRESH_SECRET is required"))
	}
	if c.JWT.AccessSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("JWT_SECRET and REFRESH_SECRET must differ"))
	}
	if c.Gateway.WebhookSecret == "" {
		errs = append(errs, errors.New("GATEWAY_WEBHOOK_SECRET is required"))
	}
	if c.Ledger.LockTTL <= 0 {
		errs = append(errs, errors.New("LEDGER_LOCK_TTL must be positive"))
	}
	// A wallet lock has to outlive the slowest provider call made while holding it.
	if c.VTU.Timeout >= c.Ledger.LockTTL {
		errs = append(errs, fmt.Errorf("VTU_TIMEOUT (%s) must be shorter than LEDGER_LOCK_TTL (%s)",
			c.VTU.Timeout, c.Ledger.LockTTL))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if c.Ledger.MinAmountMinor <= 0 || c.Ledger.MaxAmountMinor < c.Ledger.MinAmountMinor {
		errs = append(errs, errors.New("ledger amount limits are inconsistent"))
	}
	return errors.Join(errs...)
}

// RedisAddr joins host and port.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}
