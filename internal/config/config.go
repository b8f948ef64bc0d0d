package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	BucketAudit string
	UseSSL      bool
	Region      string
}

type RememberConfig struct {
	CookieName    string
	TTL           time.Duration
	SigningSecret string
}

type SecurityConfig struct {
	MaxAttempts          int
	IdleTimeout          time.Duration
	InvalidPasswordDelay time.Duration
	SessionCookieName    string
	CookieSecure         bool
	Hasher               string
	Remember             RememberConfig
}

type SessionsConfig struct {
	Backend       string
	Retention     time.Duration
	SweepSchedule string
}

type SeedAccount struct {
	Email    string
	Password string
	Role     string
	Active   bool
}

type AccountsConfig struct {
	Backend string
	Seed    []SeedAccount
}

type RateLimitConfig struct {
	Enabled   bool
	PerSecond float64
	Burst     int
}

type AuditConfig struct {
	Enabled       bool
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	Logging          LoggingConfig
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Sessions         SessionsConfig
	Accounts         AccountsConfig
	RateLimit        RateLimitConfig
	Audit            AuditConfig
	AllowCORSOrigins []string
}

// NeedsPostgres reports whether any configured backend lives in postgres.
func (c *AppConfig) NeedsPostgres() bool {
	return c.Accounts.Backend == BackendPostgres || c.Sessions.Backend == BackendPostgres
}

// NeedsRedis reports whether sessions or the audit stream require redis.
func (c *AppConfig) NeedsRedis() bool {
	return c.Sessions.Backend == BackendRedis || c.Audit.Enabled
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("LOGINGATE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Security.MaxAttempts < 1 {
		return fmt.Errorf("security.maxattempts must be positive, got %d", c.Security.MaxAttempts)
	}
	if c.Security.IdleTimeout <= 0 {
		return fmt.Errorf("security.idletimeout must be positive")
	}
	switch c.Accounts.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("accounts.backend %q not supported", c.Accounts.Backend)
	}
	switch c.Sessions.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("sessions.backend %q not supported", c.Sessions.Backend)
	}
	if c.NeedsPostgres() && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn required for postgres backend")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "debug")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.bucketaudit", "logingate-audit")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.maxattempts", 3)
	v.SetDefault("security.idletimeout", "5m")
	v.SetDefault("security.invalidpassworddelay", "4s")
	v.SetDefault("security.sessioncookiename", "session")
	v.SetDefault("security.cookiesecure", false)
	v.SetDefault("security.hasher", "argon2")
	v.SetDefault("security.remember.cookiename", "remember_me")
	v.SetDefault("security.remember.ttl", "720h") // 30 days

	v.SetDefault("sessions.backend", BackendMemory)
	v.SetDefault("sessions.retention", "24h")
	v.SetDefault("sessions.sweepschedule", "0 */5 * * * *")

	v.SetDefault("accounts.backend", BackendMemory)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.persecond", 5)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.stream", "auth:events")
	v.SetDefault("audit.group", "audit-archivers")
	v.SetDefault("audit.consumer", "worker-1")
	v.SetDefault("audit.claiminterval", "10s")

	v.SetDefault("allowcorsorigins", []string{})
}
