package config

import (
	"fmt"
	"strings"
	"time"

	"ml-feature-reconciler/internal/features"
	"ml-feature-reconciler/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultMacroIndicators is used when MACRO_INDICATORS yields no usable pairs.
var DefaultMacroIndicators = map[string]string{
	"VIX":      "vix",
	"SPX":      "spx",
	"DXY":      "dxy",
	"DGS10":    "treasury_10y",
	"DGS2":     "treasury_2y",
	"FEDFUNDS": "fed_funds_rate",
}

type Config struct {
	App         AppConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Reconcile   ReconcileConfig
	Placeholder PlaceholderConfig
	CoinGecko   CoinGeckoConfig
	Kafka       KafkaConfig
	Tracing     TracingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"ml-feature-reconciler"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	APIKey   string `envconfig:"API_KEY"`
}

type PostgresConfig struct {
	URL         string        `envconfig:"DATABASE_URL"`
	MaxConns    int32         `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
	LockTimeout time.Duration `envconfig:"POSTGRES_LOCK_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL             string        `envconfig:"REDIS_URL" default:"localhost:6379"`
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"10m"`
	RunLockTTL      time.Duration `envconfig:"RUN_LOCK_TTL" default:"2h"`
}

type ReconcileConfig struct {
	Enabled      bool          `envconfig:"RECONCILE_ENABLED" default:"true"`
	Interval     time.Duration `envconfig:"RECONCILE_INTERVAL" default:"15m"`
	LookbackDays int           `envconfig:"RECONCILE_LOOKBACK_DAYS" default:"1"`
	// Change24hTolerance bounds the distance between t-24h and the prior tick.
	Change24hTolerance time.Duration `envconfig:"CHANGE24H_TOLERANCE" default:"1h"`
	// Change24hMaxAbsPct discards computed changes above this magnitude.
	Change24hMaxAbsPct float64 `envconfig:"CHANGE24H_MAX_ABS_PCT" default:"1000"`
	// MacroIndicators maps macro_indicators.indicator_name to a feature column.
	MacroIndicators map[string]string `envconfig:"MACRO_INDICATORS" default:"VIX:vix,SPX:spx,DXY:dxy,DGS10:treasury_10y,DGS2:treasury_2y,FEDFUNDS:fed_funds_rate"`
}

type PlaceholderConfig struct {
	Enabled   bool          `envconfig:"PLACEHOLDER_ENABLED" default:"true"`
	Interval  time.Duration `envconfig:"PLACEHOLDER_INTERVAL" default:"6h"`
	DaysAhead int           `envconfig:"PLACEHOLDER_DAYS_AHEAD" default:"1"`
}

type CoinGeckoConfig struct {
	Enabled           bool          `envconfig:"COINGECKO_ENABLED" default:"false"`
	BaseURL           string        `envconfig:"COINGECKO_BASE_URL" default:"https://api.coingecko.com/api/v3"`
	APIKey            string        `envconfig:"COINGECKO_API_KEY"`
	PollInterval      time.Duration `envconfig:"COINGECKO_POLL_INTERVAL" default:"60s"`
	RequestsPerMinute int           `envconfig:"COINGECKO_REQUESTS_PER_MINUTE" default:"8"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"ml-features.reconciled"`
}

type TracingConfig struct {
	Enabled  bool   `envconfig:"TRACING_ENABLED" default:"true"`
	Endpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	log := logger.Get()

	if strings.TrimSpace(c.Postgres.URL) == "" {
		log.Warn("DATABASE_URL not set")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		log.Warn("REDIS_URL not set, defaulting to localhost:6379")
		c.Redis.URL = "localhost:6379"
	}
	if c.Reconcile.Interval <= 0 {
		log.Warnf("invalid RECONCILE_INTERVAL=%s, defaulting to 15m", c.Reconcile.Interval)
		c.Reconcile.Interval = 15 * time.Minute
	}
	if c.Reconcile.LookbackDays < 0 {
		log.Warnf("invalid RECONCILE_LOOKBACK_DAYS=%d, defaulting to 1", c.Reconcile.LookbackDays)
		c.Reconcile.LookbackDays = 1
	}
	if c.Reconcile.Change24hTolerance <= 0 {
		log.Warnf("invalid CHANGE24H_TOLERANCE=%s, defaulting to 1h", c.Reconcile.Change24hTolerance)
		c.Reconcile.Change24hTolerance = time.Hour
	}
	if c.Reconcile.Change24hMaxAbsPct <= 0 {
		log.Warnf("invalid CHANGE24H_MAX_ABS_PCT=%v, defaulting to 1000", c.Reconcile.Change24hMaxAbsPct)
		c.Reconcile.Change24hMaxAbsPct = 1000
	}
	if c.Placeholder.Interval <= 0 {
		c.Placeholder.Interval = 6 * time.Hour
	}
	if c.Placeholder.DaysAhead < 0 {
		c.Placeholder.DaysAhead = 0
	}
	if c.CoinGecko.PollInterval <= 0 {
		c.CoinGecko.PollInterval = time.Minute
	}
	if c.CoinGecko.RequestsPerMinute <= 0 {
		c.CoinGecko.RequestsPerMinute = 8
	}

	macro := make(map[string]string, len(c.Reconcile.MacroIndicators))
	for name, column := range c.Reconcile.MacroIndicators {
		name = strings.ToUpper(strings.TrimSpace(name))
		column = strings.ToLower(strings.TrimSpace(column))
		if name == "" || column == "" {
			continue
		}
		if !features.IsMacroColumn(column) {
			log.Warnf("ignoring MACRO_INDICATORS entry %s:%s, column must be one of %s",
				name, column, strings.Join(features.MacroColumns, ", "))
			continue
		}
		macro[name] = column
	}
	if len(macro) == 0 {
		for name, column := range DefaultMacroIndicators {
			macro[name] = column
		}
	}
	c.Reconcile.MacroIndicators = macro

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}
