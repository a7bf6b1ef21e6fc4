package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"cark-backend/internal/pricing"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Payment   PaymentConfig   `yaml:"payment"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Redis     RedisConfig     `yaml:"redis"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_seconds"`
}

// GRPCConfig contains the ledger gRPC listener settings
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	Migrate  bool   `yaml:"migrate"`
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// StorageConfig selects the repository backend
type StorageConfig struct {
	Type string `yaml:"type"` // "postgres" or "memory"
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	CancelExpiredDeposits string `yaml:"cancel_expired_deposits"`
	LockTTLSeconds        int    `yaml:"lock_ttl_seconds"`
}

// PricingConfig overrides the default pricing policy. Empty values keep the
// defaults. Rates are fractions ("0.25" is 25%).
type PricingConfig struct {
	ChauffeuredCommission string `yaml:"chauffeured_commission"`
	SelfDriveCommission   string `yaml:"self_drive_commission"`
	BufferRate            string `yaml:"buffer_rate"`
	DepositRate           string `yaml:"deposit_rate"`
	CTWRate               string `yaml:"ctw_rate"`
	DiscountPerDay        string `yaml:"discount_per_day"`
	MaxDiscountDays       int    `yaml:"max_discount_days"`
	LateSurcharge         string `yaml:"late_surcharge"`
	DepositWindowHours    int    `yaml:"deposit_window_hours"`
	OwnerSoftFloor        string `yaml:"owner_soft_floor"`
}

// PaymentConfig configures the simulated gateway
type PaymentConfig struct {
	// DeclineAbove declines charges above this amount. Empty disables it.
	DeclineAbove string `yaml:"decline_above"`
}

// AMQPConfig configures the domain event publisher
type AMQPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// RedisConfig configures the job lock
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Load reads configuration from a YAML file. Values from a .env file in the
// working directory and from the environment take precedence.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Server
	envString("SERVER_HOST", &c.Server.Host)
	envInt("SERVER_PORT", &c.Server.Port)
	envBool("GRPC_ENABLED", &c.GRPC.Enabled)
	envInt("GRPC_PORT", &c.GRPC.Port)

	// Database
	envString("DB_HOST", &c.Database.Host)
	envInt("DB_PORT", &c.Database.Port)
	envString("DB_USER", &c.Database.User)
	envString("DB_PASSWORD", &c.Database.Password)
	envString("DB_NAME", &c.Database.Database)
	envString("DB_SSL_MODE", &c.Database.SSLMode)
	envString("STORAGE_TYPE", &c.Storage.Type)

	// JWT
	envString("JWT_SECRET", &c.JWT.Secret)

	// Log
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	// Brokers
	envBool("AMQP_ENABLED", &c.AMQP.Enabled)
	envString("AMQP_URL", &c.AMQP.URL)
	envBool("REDIS_ENABLED", &c.Redis.Enabled)
	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)

	envString("PAYMENT_DECLINE_ABOVE", &c.Payment.DeclineAbove)
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}

	if c.Storage.Type == "" {
		c.Storage.Type = StoragePostgres
	}
	switch c.Storage.Type {
	case StoragePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry <= 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return fmt.Errorf("AMQP URL is required when AMQP is enabled")
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "rental.events"
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if c.Scheduler.CancelExpiredDeposits == "" {
		c.Scheduler.CancelExpiredDeposits = "0 */5 * * * *" // every 5 minutes
	}
	if c.Scheduler.LockTTLSeconds <= 0 {
		c.Scheduler.LockTTLSeconds = 240
	}

	if _, err := c.PricingPolicy(); err != nil {
		return err
	}
	if _, err := c.DeclineAbove(); err != nil {
		return err
	}
	return nil
}

// PricingPolicy returns the default policy with the configured overrides
// applied.
func (c *Config) PricingPolicy() (pricing.Policy, error) {
	p := pricing.DefaultPolicy()
	rates := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"chauffeured_commission", c.Pricing.ChauffeuredCommission, &p.ChauffeuredCommission},
		{"self_drive_commission", c.Pricing.SelfDriveCommission, &p.SelfDriveCommission},
		{"buffer_rate", c.Pricing.BufferRate, &p.BufferRate},
		{"deposit_rate", c.Pricing.DepositRate, &p.DepositRate},
		{"ctw_rate", c.Pricing.CTWRate, &p.CTWRate},
		{"discount_per_day", c.Pricing.DiscountPerDay, &p.DiscountPerDay},
		{"late_surcharge", c.Pricing.LateSurcharge, &p.LateSurcharge},
		{"owner_soft_floor", c.Pricing.OwnerSoftFloor, &p.OwnerSoftFloor},
	}
	for _, r := range rates {
		if r.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(r.raw)
		if err != nil {
			return pricing.Policy{}, fmt.Errorf("invalid pricing.%s %q: %w", r.name, r.raw, err)
		}
		if r.name != "owner_soft_floor" && (v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1))) {
			return pricing.Policy{}, fmt.Errorf("pricing.%s must be between 0 and 1, got %s", r.name, r.raw)
		}
		*r.dst = v
	}
	if c.Pricing.MaxDiscountDays > 0 {
		p.MaxDiscountDays = c.Pricing.MaxDiscountDays
	}
	if c.Pricing.DepositWindowHours > 0 {
		p.DepositWindow = time.Duration(c.Pricing.DepositWindowHours) * time.Hour
	}
	return p, nil
}

// DeclineAbove is the simulated gateway's decline threshold; zero disables it.
func (c *Config) DeclineAbove() (decimal.Decimal, error) {
	if c.Payment.DeclineAbove == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(c.Payment.DeclineAbove)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid payment.decline_above %q: %w", c.Payment.DeclineAbove, err)
	}
	return v, nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetGRPCAddress returns the gRPC server address
func (c *Config) GetGRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.GRPC.Host, c.GRPC.Port)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenExpiry) * time.Minute
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Scheduler.LockTTLSeconds) * time.Second
}
