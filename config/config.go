package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Sentimentflow SentimentflowConfig `yaml:"sentimentflow"`
	Collector     CollectorConfig     `yaml:"collector"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Source        SourceConfig        `yaml:"source"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type SentimentflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type CollectorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

type SourceConfig struct {
	Coingecko CoingeckoConfig `yaml:"coingecko"`
	Binance   BinanceConfig   `yaml:"binance"`
	Bybit     BybitConfig     `yaml:"bybit"`
	Okx       OkxConfig       `yaml:"okx"`
}

// InstrumentSymbols maps a neutral instrument id (bitcoin, ethereum) to the
// contract symbol used on the perpetual futures venue.
type InstrumentSymbols struct {
	Bitcoin  string `yaml:"bitcoin"`
	Ethereum string `yaml:"ethereum"`
}

type CoingeckoConfig struct {
	URL string `yaml:"url"`
}

type BinanceConfig struct {
	Funding     FundingSourceConfig     `yaml:"funding"`
	Liquidation LiquidationStreamConfig `yaml:"liquidation"`
}

type BybitConfig struct {
	URL         string                  `yaml:"url"`
	Funding     FundingSourceConfig     `yaml:"funding"`
	Liquidation LiquidationStreamConfig `yaml:"liquidation"`
}

type OkxConfig struct {
	URL     string              `yaml:"url"`
	Funding FundingSourceConfig `yaml:"funding"`
}

type FundingSourceConfig struct {
	Enabled bool              `yaml:"enabled"`
	Symbols InstrumentSymbols `yaml:"symbols"`
}

type LiquidationStreamConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type StorageConfig struct {
	DataDir string   `yaml:"data_dir"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Prefix          string        `yaml:"prefix"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	CloudWatch    bool   `yaml:"cloudwatch"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Collector.PollInterval <= 0 {
		cfg.Collector.PollInterval = 30 * time.Second
	}
	if cfg.Collector.RequestTimeout <= 0 {
		cfg.Collector.RequestTimeout = 10 * time.Second
	}
	if cfg.Channels.RawBuffer <= 0 {
		cfg.Channels.RawBuffer = 1024
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Source.Coingecko.URL == "" {
		cfg.Source.Coingecko.URL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Source.Okx.URL == "" {
		cfg.Source.Okx.URL = "https://www.okx.com"
	}
	if cfg.Source.Binance.Liquidation.ReconnectDelay <= 0 {
		cfg.Source.Binance.Liquidation.ReconnectDelay = 5 * time.Second
	}
	if cfg.Source.Bybit.Liquidation.ReconnectDelay <= 0 {
		cfg.Source.Bybit.Liquidation.ReconnectDelay = 5 * time.Second
	}
	if cfg.Storage.S3.FlushInterval <= 0 {
		cfg.Storage.S3.FlushInterval = time.Minute
	}

	applyFundingSymbolDefaults(&cfg.Source.Binance.Funding.Symbols, "BTCUSDT", "ETHUSDT")
	applyFundingSymbolDefaults(&cfg.Source.Bybit.Funding.Symbols, "BTCUSDT", "ETHUSDT")
	applyFundingSymbolDefaults(&cfg.Source.Okx.Funding.Symbols, "BTC-USDT-SWAP", "ETH-USDT-SWAP")
}

func applyFundingSymbolDefaults(symbols *InstrumentSymbols, btc, eth string) {
	if symbols.Bitcoin == "" {
		symbols.Bitcoin = btc
	}
	if symbols.Ethereum == "" {
		symbols.Ethereum = eth
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Sentimentflow.Name == "" {
		return fmt.Errorf("sentimentflow.name is required")
	}

	if cfg.Sentimentflow.Version == "" {
		return fmt.Errorf("sentimentflow.version is required")
	}

	if cfg.Source.Binance.Liquidation.Enabled && len(cfg.Source.Binance.Liquidation.Symbols) == 0 {
		return fmt.Errorf("source.binance.liquidation.symbols is required when the stream is enabled")
	}

	if cfg.Source.Bybit.Liquidation.Enabled && len(cfg.Source.Bybit.Liquidation.Symbols) == 0 {
		return fmt.Errorf("source.bybit.liquidation.symbols is required when the stream is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
