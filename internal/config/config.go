package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DefaultFile is read by Load when present.
const DefaultFile = "config.yaml"

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// OplabConfig holds the market data / pricing API settings
type OplabConfig struct {
	Token         string `yaml:"token"`
	BaseURL       string `yaml:"base_url"`
	MinIntervalMs int    `yaml:"min_interval_ms"`
}

// AlpacaConfig represents Alpaca API configuration
type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	DataURL   string `yaml:"data_url"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig enables cluster-wide locks and a shared Greeks cache. An empty
// URL keeps both in process.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type RefreshConfig struct {
	TTLMinutes     int    `yaml:"ttl_minutes"`
	Granularity    string `yaml:"granularity"` // due_date, ticker
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

type GreeksConfig struct {
	CacheTTLMinutes int  `yaml:"cache_ttl_minutes"`
	RemoteTimeoutMs int  `yaml:"remote_timeout_ms"`
	LegTimeoutMs    int  `yaml:"leg_timeout_ms"`
	DeriveVol       bool `yaml:"derive_vol"`
}

// PricingConfig holds the Black-Scholes inputs that do not come from quotes
type PricingConfig struct {
	RiskFreeRate  float64 `yaml:"risk_free_rate"`
	RateSource    string  `yaml:"rate_source"` // fixed, treasury
	TreasuryURL   string  `yaml:"treasury_url"`
	DividendYield float64 `yaml:"dividend_yield"`
	DayCount      float64 `yaml:"day_count"`
}

type ScreenerConfig struct {
	ExpiryCount     int      `yaml:"expiry_count"`
	LookaheadMonths int      `yaml:"lookahead_months"`
	LegPriority     string   `yaml:"leg_priority"`
	Workers         int      `yaml:"workers"`
	DefaultTickers  []string `yaml:"default_tickers"`
}

type Config struct {
	// Server settings
	Port string `yaml:"port"`

	// Market data provider: oplab, alpaca
	Provider string `yaml:"provider"`

	Logging  LoggingConfig  `yaml:"logging"`
	Oplab    OplabConfig    `yaml:"oplab"`
	Alpaca   AlpacaConfig   `yaml:"alpaca"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Greeks   GreeksConfig   `yaml:"greeks"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Screener ScreenerConfig `yaml:"screener"`
}

// Load reads .env, builds defaults from the environment, then overlays
// config.yaml when it exists.
func Load() *Config {
	return LoadFile(DefaultFile)
}

// LoadFile is Load with an explicit YAML path. Keys present in the file win
// over the environment; a missing or malformed file is ignored.
func LoadFile(path string) *Config {
	// .env never overrides variables that are already set
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Provider: getEnv("PROVIDER", "oplab"),
		Logging: LoggingConfig{
			LogLevel: getEnv("LOG_LEVEL", "info"),
			LogFile:  getEnv("LOG_FILE", "atmscreen.log"),
		},
		Oplab: OplabConfig{
			Token:         getEnv("OPLAB_TOKEN", ""),
			BaseURL:       getEnv("OPLAB_BASE_URL", "https://api.oplab.com.br/v3"),
			MinIntervalMs: getEnvInt("OPLAB_MIN_INTERVAL_MS", 100),
		},
		Alpaca: AlpacaConfig{
			APIKey:    getEnv("ALPACA_API_KEY", ""),
			SecretKey: getEnv("ALPACA_SECRET_KEY", ""),
			DataURL:   getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "atmscreen.db"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Refresh: RefreshConfig{
			TTLMinutes:     getEnvInt("REFRESH_TTL_MINUTES", 15),
			Granularity:    getEnv("REFRESH_GRANULARITY", "due_date"),
			LockTTLSeconds: getEnvInt("LOCK_TTL_SECONDS", 120),
		},
		Greeks: GreeksConfig{
			CacheTTLMinutes: getEnvInt("GREEKS_CACHE_TTL_MINUTES", 60),
			RemoteTimeoutMs: getEnvInt("GREEKS_REMOTE_TIMEOUT_MS", 3000),
			LegTimeoutMs:    getEnvInt("GREEKS_LEG_TIMEOUT_MS", 5000),
			DeriveVol:       getEnvBool("GREEKS_DERIVE_VOL", false),
		},
		Pricing: PricingConfig{
			RiskFreeRate:  getEnvFloat("RISK_FREE_RATE", 0),
			RateSource:    getEnv("RATE_SOURCE", "fixed"),
			TreasuryURL:   getEnv("TREASURY_URL", ""),
			DividendYield: getEnvFloat("DIVIDEND_YIELD", 0),
			DayCount:      getEnvFloat("DAY_COUNT", 252),
		},
		Screener: ScreenerConfig{
			ExpiryCount:     getEnvInt("EXPIRY_COUNT", 2),
			LookaheadMonths: getEnvInt("LOOKAHEAD_MONTHS", 12),
			LegPriority:     getEnv("LEG_PRIORITY", "quote,open_interest,volume,spread"),
			Workers:         getEnvInt("SCREENER_WORKERS", 4),
			DefaultTickers:  getEnvStringSlice("DEFAULT_TICKERS", []string{}),
		},
	}

	if data, err := os.ReadFile(path); err == nil {
		overlay := *cfg
		if err := yaml.Unmarshal(data, &overlay); err == nil {
			*cfg = overlay
		}
	}

	return cfg
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Refresh.TTLMinutes) * time.Minute
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Refresh.LockTTLSeconds) * time.Second
}

func (c *Config) GreeksCacheTTL() time.Duration {
	return time.Duration(c.Greeks.CacheTTLMinutes) * time.Minute
}

func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Greeks.RemoteTimeoutMs) * time.Millisecond
}

func (c *Config) LegTimeout() time.Duration {
	return time.Duration(c.Greeks.LegTimeoutMs) * time.Millisecond
}

func (c *Config) OplabMinInterval() time.Duration {
	return time.Duration(c.Oplab.MinIntervalMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return defaultValue
}
