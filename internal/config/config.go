package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WALLETVALUE_EXPORT_DIR.
const EnvPrefix = "WALLETVALUE"

// Price sources.
const (
	PriceSourceAuto       = "auto"
	PriceSourceCSV        = "csv"
	PriceSourceManual     = "manual"
	PriceSourceClickHouse = "clickhouse"
)

// Export backends.
const (
	BackendLocal = "local"
	BackendMinIO = "minio"
	BackendNone  = "none"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Transactions           string   `mapstructure:"transactions"`
	Prices                 string   `mapstructure:"prices"`
	PriceEntries           []string `mapstructure:"price"`
	PriceSource            string   `mapstructure:"price_source" validate:"oneof=auto csv manual clickhouse"`
	PricesFile             string   `mapstructure:"prices_file" validate:"required"`
	MissingPricePolicy     string   `mapstructure:"missing_price_policy" validate:"oneof=zero exclude fail"`
	MatchNormalizedSymbols bool     `mapstructure:"match_normalized_symbols"`
	Outputs                []string `mapstructure:"outputs" validate:"dive,oneof=summary mid high all"`
	Display                bool     `mapstructure:"display"`
	LogLevel               string   `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	Export     ExportConfig     `mapstructure:"export"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Server     ServerConfig     `mapstructure:"server"`
}

type ExportConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=local minio none"`
	Dir     string `mapstructure:"dir"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type ClickHouseConfig struct {
	Addr       string `mapstructure:"addr"`
	Database   string `mapstructure:"database"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	PriceTable string `mapstructure:"price_table"`
	Load       bool   `mapstructure:"load"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit     float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Burst         int           `mapstructure:"burst" validate:"gte=1"`
	PriceCacheTTL time.Duration `mapstructure:"price_cache_ttl" validate:"gt=0"`
}

// SetDefaults registers every key so that environment overrides apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("transactions", "")
	v.SetDefault("prices", "")
	v.SetDefault("price", []string{})
	v.SetDefault("price_source", PriceSourceAuto)
	v.SetDefault("prices_file", "crypto_prices.csv")
	v.SetDefault("missing_price_policy", "zero")
	v.SetDefault("match_normalized_symbols", false)
	v.SetDefault("outputs", []string{"summary", "mid"})
	v.SetDefault("display", true)
	v.SetDefault("log_level", "info")

	v.SetDefault("export.backend", BackendLocal)
	v.SetDefault("export.dir", "output")

	v.SetDefault("minio.endpoint", "localhost:9001")
	v.SetDefault("minio.access_key", "minioadmin")
	v.SetDefault("minio.secret_key", "minioadmin")
	v.SetDefault("minio.bucket", "wallet-valuation")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("clickhouse.addr", "127.0.0.1:9000")
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.price_table", "crypto_prices")
	v.SetDefault("clickhouse.load", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 5)
	v.SetDefault("server.burst", 10)
	v.SetDefault("server.price_cache_ttl", 5*time.Minute)
}

// New returns a viper instance with defaults, environment binding and,
// when cfgFile is set, the given config file.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.PriceSource == PriceSourceCSV && c.Prices == "" {
		return fmt.Errorf("%w: price_source csv needs a prices file", ErrInvalidConfig)
	}
	if c.Export.Backend == BackendLocal && c.Export.Dir == "" {
		return fmt.Errorf("%w: export.dir is required for the local backend", ErrInvalidConfig)
	}
	if c.Export.Backend == BackendMinIO && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("%w: minio.endpoint and minio.bucket are required for the minio backend", ErrInvalidConfig)
	}
	if (c.PriceSource == PriceSourceClickHouse || c.ClickHouse.Load) && c.ClickHouse.Addr == "" {
		return fmt.Errorf("%w: clickhouse.addr is required", ErrInvalidConfig)
	}
	return nil
}

// ResolvedPriceSource turns "auto" into csv when a prices file is given
// and manual otherwise.
func (c *Config) ResolvedPriceSource() string {
	if c.PriceSource != PriceSourceAuto {
		return c.PriceSource
	}
	if c.Prices != "" {
		return PriceSourceCSV
	}
	return PriceSourceManual
}
