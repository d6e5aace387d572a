package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Sync     SyncConfig     `mapstructure:"sync"`
	Store    StoreConfig    `mapstructure:"store"`
	Provider ProviderConfig `mapstructure:"provider"`
	Log      LogConfig      `mapstructure:"log"`
}

type SyncConfig struct {
	ChunkSize    int           `mapstructure:"chunk_size"`
	Tickers      []string      `mapstructure:"tickers"`
	DryRun       bool          `mapstructure:"dry_run"`
	RequestDelay time.Duration `mapstructure:"request_delay"`
	Yes          bool          `mapstructure:"yes"`
}

type ProviderConfig struct {
	Name                 string        `mapstructure:"name"` // "eodhd" or "alpaca"
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`

	EODHD  EODHDConfig  `mapstructure:"eodhd"`
	Alpaca AlpacaConfig `mapstructure:"alpaca"`
}

type EODHDConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	APIKeyParameter string `mapstructure:"api_key_parameter"` // SSM parameter name, used when api_key is empty
	Exchange        string `mapstructure:"exchange"`
}

type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	DataURL   string `mapstructure:"data_url"`
	Feed      string `mapstructure:"feed"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file the run log is appended to (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.chunk_size", 50)
	v.SetDefault("sync.tickers", []string{})
	v.SetDefault("sync.dry_run", false)
	v.SetDefault("sync.request_delay", 500*time.Millisecond)
	v.SetDefault("sync.yes", false)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "StockData.db")
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("store.create_database", false)
	v.SetDefault("store.environment", "dev")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", "stockdata")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.timezone", "")
	v.SetDefault("store.postgres.host_parameter", "")
	v.SetDefault("store.postgres.user_parameter", "")
	v.SetDefault("store.postgres.password_parameter", "")
	v.SetDefault("store.postgres.max_open_conns", 4)
	v.SetDefault("store.postgres.max_idle_conns", 2)
	v.SetDefault("store.postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("provider.name", "eodhd")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.retry_initial_interval", time.Second)
	v.SetDefault("provider.retry_max_interval", 10*time.Second)
	v.SetDefault("provider.eodhd.base_url", "https://eodhd.com")
	v.SetDefault("provider.eodhd.api_key", "")
	v.SetDefault("provider.eodhd.api_key_parameter", "")
	v.SetDefault("provider.eodhd.exchange", "US")
	v.SetDefault("provider.alpaca.api_key", "")
	v.SetDefault("provider.alpaca.api_secret", "")
	v.SetDefault("provider.alpaca.data_url", "")
	v.SetDefault("provider.alpaca.feed", "iex")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "ticker_prices_log.txt")
	v.SetDefault("log.environment", "dev")
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"chunk-size": "sync.chunk_size",
	"tickers":    "sync.tickers",
	"dry-run":    "sync.dry_run",
	"yes":        "sync.yes",
	"db-path":    "store.path",
	"log-level":  "log.level",
}

// Load loads application configuration using Viper.
// Values come from flags, then PRICESYNC_* environment variables (a .env
// file is honoured), then the optional config file, then defaults.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Every key needs a default in setDefaults for AutomaticEnv to reach it via
	// Unmarshal. Environment variables use dot notation, e.g. PRICESYNC_STORE_PATH
	v.SetEnvPrefix("pricesync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Sync.Tickers = normalizeSymbols(cfg.Sync.Tickers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first configuration value the run cannot start with.
func (c *Config) Validate() error {
	if c.Sync.ChunkSize < 1 {
		return fmt.Errorf("sync.chunk_size must be at least 1, got %d", c.Sync.ChunkSize)
	}
	if c.Sync.RequestDelay < 0 {
		return fmt.Errorf("sync.request_delay must not be negative")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Provider.Name {
	case "eodhd", "alpaca":
	default:
		return fmt.Errorf("unknown provider.name %q", c.Provider.Name)
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider.max_retries must not be negative")
	}
	return nil
}

// AddTickers appends symbols to the ticker filter, normalized like the
// configured ones.
func (c *Config) AddTickers(symbols ...string) {
	if len(symbols) == 0 {
		return
	}
	c.Sync.Tickers = normalizeSymbols(append(c.Sync.Tickers, symbols...))
}

// normalizeSymbols upper-cases symbols and splits comma or space separated
// entries, so "--tickers aapl,msft" and PRICESYNC_SYNC_TICKERS="AAPL MSFT"
// both work.
func normalizeSymbols(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, entry := range in {
		for _, sym := range strings.FieldsFunc(entry, func(r rune) bool { return r == ',' || r == ' ' }) {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}
