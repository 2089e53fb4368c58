package config

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DefaultCalendarZone is the civil calendar every appointment date and slot
// label is expressed in. Weekday resolution, "today" and "now" for reminders
// all use this zone unless CALENDAR_TIMEZONE overrides it.
const DefaultCalendarZone = "Asia/Kolkata"

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	CalendarTimezone  string        `mapstructure:"CALENDAR_TIMEZONE"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	AMQPURL           string        `mapstructure:"AMQP_URL"`
	AMQPExchange      string        `mapstructure:"AMQP_EXCHANGE"`
	SMTPHost          string        `mapstructure:"SMTP_HOST"`
	SMTPPort          int           `mapstructure:"SMTP_PORT"`
	SMTPUser          string        `mapstructure:"SMTP_USER"`
	SMTPPassword      string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom          string        `mapstructure:"SMTP_FROM"`
	SolanaRPCURL      string        `mapstructure:"SOLANA_RPC_URL"`
	SolanaPrivateKey  string        `mapstructure:"SOLANA_PRIVATE_KEY"`
	IncentiveAmount   string        `mapstructure:"INCENTIVE_AMOUNT"`
	TransferTimeout   time.Duration `mapstructure:"TRANSFER_TIMEOUT"`
	NotifyTimeout     time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	ReminderSchedule  string        `mapstructure:"REMINDER_SCHEDULE"`
	ReminderLookahead time.Duration `mapstructure:"REMINDER_LOOKAHEAD"`
	ReminderLease     time.Duration `mapstructure:"REMINDER_LEASE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "CALENDAR_TIMEZONE",
	"REDIS_URL", "AMQP_URL", "AMQP_EXCHANGE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM",
	"SOLANA_RPC_URL", "SOLANA_PRIVATE_KEY", "INCENTIVE_AMOUNT",
	"TRANSFER_TIMEOUT", "NOTIFY_TIMEOUT",
	"REMINDER_SCHEDULE", "REMINDER_LOOKAHEAD", "REMINDER_LEASE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("CALENDAR_TIMEZONE", DefaultCalendarZone)
	v.SetDefault("AMQP_EXCHANGE", "telecare.events")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	v.SetDefault("INCENTIVE_AMOUNT", "0.01")
	v.SetDefault("TRANSFER_TIMEOUT", "30s")
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("REMINDER_SCHEDULE", "*/10 * * * *")
	v.SetDefault("REMINDER_LOOKAHEAD", "30m")
	v.SetDefault("REMINDER_LEASE", "5m")

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in development mode; X-User-ID / X-User-Role headers are trusted as identity")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves the configured civil calendar zone.
func (c *Config) Location() (*time.Location, error) {
	name := c.CalendarTimezone
	if name == "" {
		name = DefaultCalendarZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("CALENDAR_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// Incentive parses INCENTIVE_AMOUNT as a decimal amount of SOL.
func (c *Config) Incentive() (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(c.IncentiveAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("INCENTIVE_AMOUNT %q: %w", c.IncentiveAmount, err)
	}
	return amt, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (ENV=%q)", c.Env)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	amt, err := c.Incentive()
	if err != nil {
		return err
	}
	if !amt.IsPositive() {
		return fmt.Errorf("INCENTIVE_AMOUNT must be positive, got %s", amt)
	}
	if c.SolanaPrivateKey != "" {
		var secret []int
		if err := json.Unmarshal([]byte(c.SolanaPrivateKey), &secret); err != nil {
			return fmt.Errorf("SOLANA_PRIVATE_KEY must be a JSON byte array: %w", err)
		}
		if len(secret) != 64 {
			return fmt.Errorf("SOLANA_PRIVATE_KEY must hold 64 bytes, got %d", len(secret))
		}
	}
	if c.TransferTimeout <= 0 || c.NotifyTimeout <= 0 {
		return fmt.Errorf("TRANSFER_TIMEOUT and NOTIFY_TIMEOUT must be positive")
	}
	if c.ReminderLookahead <= 0 || c.ReminderLease <= 0 {
		return fmt.Errorf("REMINDER_LOOKAHEAD and REMINDER_LEASE must be positive")
	}
	return nil
}
