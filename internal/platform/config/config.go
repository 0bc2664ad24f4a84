// Package config loads the service configuration from a YAML file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"candle_tracker/internal/feature/candles/domain/timeframe"
)

// Config is the root configuration.
type Config struct {
	Environment string         `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      ServerConfig   `yaml:"server"`
	Log         LogConfig      `yaml:"log"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Cache       CacheConfig    `yaml:"cache"`
	Feed        FeedConfig     `yaml:"feed"`
	Tracking    TrackingConfig `yaml:"tracking"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Ingest      IngestConfig   `yaml:"ingest"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json text"`
}

type DatabaseConfig struct {
	Driver         string        `yaml:"driver" default:"postgres" validate:"oneof=postgres sqlite"`
	Host           string        `yaml:"host" default:"localhost"`
	Port           string        `yaml:"port" default:"5432"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Name           string        `yaml:"name" default:"candles"`
	SSLMode        string        `yaml:"sslmode" default:"disable"`
	InstanceName   string        `yaml:"instance_name"`
	SQLitePath     string        `yaml:"sqlite_path" default:"candles.db"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"60s"`
	MaxOpenConns   int           `yaml:"max_open_conns" default:"10" validate:"gte=1"`
	RunMigrations  bool          `yaml:"run_migrations" default:"true"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type CacheConfig struct {
	Namespace string        `yaml:"namespace" default:"candles"`
	MaxTTL    time.Duration `yaml:"max_ttl" default:"5m" validate:"gt=0"`
}

type FeedConfig struct {
	Provider   string           `yaml:"provider" default:"simulated" validate:"oneof=twelvedata okx simulated"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	TwelveData TwelveDataConfig `yaml:"twelvedata"`
	OKX        OKXConfig        `yaml:"okx"`
	Simulated  SimulatedConfig  `yaml:"simulated"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests" default:"8" validate:"gt=0"`
	Interval time.Duration `yaml:"interval" default:"1m" validate:"gt=0"`
}

type TwelveDataConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url" default:"https://api.twelvedata.com" validate:"url"`
	Timeout time.Duration `yaml:"timeout" default:"10s"`
}

type OKXConfig struct {
	RESTURL        string        `yaml:"rest_url" default:"https://www.okx.com" validate:"url"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.okx.com:8443/ws/v5/business" validate:"url"`
	Timeout        time.Duration `yaml:"timeout" default:"10s"`
	Stream         bool          `yaml:"stream" default:"true"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
}

type SimulatedConfig struct {
	Seed       int64   `yaml:"seed" default:"1"`
	StartPrice float64 `yaml:"start_price" default:"100" validate:"gt=0"`
	Volatility float64 `yaml:"volatility" default:"0.01" validate:"gte=0,lt=1"`
}

type TrackingConfig struct {
	// UpdateIntervals overrides the poll cadence per timeframe code, e.g. {"1m": "5s"}.
	UpdateIntervals map[string]time.Duration `yaml:"update_intervals" validate:"dive,keys,timeframe,endkeys,gt=0"`
	Autostart       []SubscriptionConfig     `yaml:"autostart" validate:"dive"`
	// MaxBars caps the number of candles a single historical request may cover.
	MaxBars         int                      `yaml:"max_bars" default:"5000" validate:"gt=0"`
}

type SubscriptionConfig struct {
	Symbol    string `yaml:"symbol" validate:"required"`
	TimeFrame string `yaml:"timeframe" validate:"required,timeframe"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic        string        `yaml:"topic" default:"candles.updates"`
	RequiredAcks int           `yaml:"required_acks" default:"-1"`
	Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"100ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type IngestConfig struct {
	Symbols    []string      `yaml:"symbols"`
	TimeFrames []string      `yaml:"timeframes" validate:"dive,timeframe"`
	Bars       int           `yaml:"bars" default:"200" validate:"gt=0"`
	Timeout    time.Duration `yaml:"timeout" default:"5m"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("timeframe", func(fl validator.FieldLevel) bool {
		_, err := timeframe.Parse(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Load builds a Config from struct defaults, the YAML file at path (skipped when path is empty),
// a .env file in the working directory if one exists, and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	setString(&c.Environment, "APP_ENV")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")
	setString(&c.Database.InstanceName, "INSTANCE_CONNECTION_NAME")
	setString(&c.Database.SQLitePath, "SQLITE_PATH")

	setString(&c.Feed.Provider, "FEED_PROVIDER")
	setString(&c.Feed.TwelveData.APIKey, "TWELVE_DATA_API_KEY")
	setString(&c.Feed.TwelveData.BaseURL, "TWELVE_DATA_BASE_URL")

	setList(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setList(&c.Ingest.Symbols, "INGEST_SYMBOLS")

	if host := os.Getenv("REDIS_HOST"); host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		c.Redis.Addr = host + ":" + port
		c.Redis.Enabled = true
	}
	setString(&c.Redis.Password, "REDIS_PASSWORD")

	bools := []struct {
		dst *bool
		key string
	}{
		{&c.Database.RunMigrations, "RUN_MIGRATIONS"},
		{&c.Redis.Enabled, "REDIS_ENABLED"},
		{&c.Kafka.Enabled, "KAFKA_ENABLED"},
		{&c.Metrics.Enabled, "METRICS_ENABLED"},
	}
	for _, b := range bools {
		v := os.Getenv(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", b.key, err)
		}
		*b.dst = parsed
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks struct rules and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Feed.Provider == "twelvedata" && c.Feed.TwelveData.APIKey == "" {
		return errors.New("feed.twelvedata.api_key is required when feed.provider is twelvedata")
	}
	if c.Database.Driver == "postgres" && c.Database.InstanceName == "" && c.Database.Host == "" {
		return errors.New("database.host or database.instance_name is required for postgres")
	}
	return nil
}

// Intervals returns the configured per-timeframe poll cadence.
func (c TrackingConfig) Intervals() (map[timeframe.TimeFrame]time.Duration, error) {
	out := make(map[timeframe.TimeFrame]time.Duration, len(c.UpdateIntervals))
	for code, d := range c.UpdateIntervals {
		tf, err := timeframe.Parse(code)
		if err != nil {
			return nil, err
		}
		out[tf] = d
	}
	return out, nil
}

// ParseTimeFrames converts timeframe codes. Any unknown code is an error.
func ParseTimeFrames(codes []string) ([]timeframe.TimeFrame, error) {
	out := make([]timeframe.TimeFrame, 0, len(codes))
	for _, code := range codes {
		tf, err := timeframe.Parse(code)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// LogValue keeps secrets out of structured logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("environment", c.Environment),
		slog.Int("port", c.Server.Port),
		slog.String("db_driver", c.Database.Driver),
		slog.Bool("redis", c.Redis.Enabled),
		slog.Bool("kafka", c.Kafka.Enabled),
		slog.String("feed", c.Feed.Provider),
		slog.Int("autostart", len(c.Tracking.Autostart)),
	)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
