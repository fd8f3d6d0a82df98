package config

import (
	"fmt"
	"strings"
	"time"

	"vipcommerce/imagefetch/internal/domain"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Download DownloadConfig `mapstructure:"download"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// APIConfig holds the import API connection settings
type APIConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	DomainKey            string `mapstructure:"domain_key"`
	AuthToken            string `mapstructure:"auth_token"`
	Timeout              int    `mapstructure:"timeout"`
	MaxRetries           int    `mapstructure:"max_retries"`
	RetryBackoffMs       int    `mapstructure:"retry_backoff_ms"`
	MaxPages             int    `mapstructure:"max_pages"`
	MaxRequestsPerSecond int    `mapstructure:"max_requests_per_second"`

	// Order window for the product map stage
	StartCreated string `mapstructure:"start_created"`
	EndCreated   string `mapstructure:"end_created"`
}

func (c APIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c APIConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// DownloadConfig holds the image download settings
type DownloadConfig struct {
	Workers       int    `mapstructure:"workers"`
	PreferredSize int    `mapstructure:"preferred_size"`
	OutputDir     string `mapstructure:"output_dir"`
	Timeout       int    `mapstructure:"timeout"`
	SkipExisting  bool   `mapstructure:"skip_existing"`
}

func (c DownloadConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// PipelineConfig toggles the stages executed by a run
type PipelineConfig struct {
	FetchMap  bool   `mapstructure:"fetch_map"`
	Download  bool   `mapstructure:"download"`
	Upload    bool   `mapstructure:"upload"`
	MapOutput string `mapstructure:"map_output"`
}

// DatabaseConfig holds the optional Postgres connection; an empty host
// disables persistence.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// RedisConfig holds the optional Redis connection used for crawl
// checkpoints; an empty host disables it.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// StorageConfig holds the optional GCS upload target; an empty bucket
// disables the upload stage.
type StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Workers         int    `mapstructure:"workers"`
}

func (c StorageConfig) Enabled() bool {
	return c.Bucket != ""
}

// Load loads configuration from YAML file with environment variable overrides
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config.yaml is fine: defaults plus environment cover a
		// minimal run.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if config.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url (or API_BASE_URL) must be set")
	}

	if !domain.ImageSize(config.Download.PreferredSize).Known() {
		log.Warnf("⚠️ download.preferred_size %d is not a rendition the API serves; every product will fall back to its largest image",
			config.Download.PreferredSize)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("api.base_url", "")
	viper.SetDefault("api.domain_key", "")
	viper.SetDefault("api.auth_token", "")
	viper.SetDefault("api.timeout", 30)
	viper.SetDefault("api.max_retries", 3)
	viper.SetDefault("api.retry_backoff_ms", 500)
	viper.SetDefault("api.max_pages", 1000)
	viper.SetDefault("api.max_requests_per_second", 10)

	viper.SetDefault("download.workers", 8)
	viper.SetDefault("download.preferred_size", 250)
	viper.SetDefault("download.output_dir", "./assets/raw_images")
	viper.SetDefault("download.timeout", 20)
	viper.SetDefault("download.skip_existing", false)

	viper.SetDefault("pipeline.fetch_map", false)
	viper.SetDefault("pipeline.download", true)
	viper.SetDefault("pipeline.upload", false)
	viper.SetDefault("pipeline.map_output", "./assets/data/product_map.json")

	viper.SetDefault("database.host", "")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "catalog")
	viper.SetDefault("database.user", "catalog_user")
	viper.SetDefault("database.password", "")

	viper.SetDefault("redis.host", "")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.database", 0)

	viper.SetDefault("storage.bucket", "")
	viper.SetDefault("storage.prefix", "product_images")
	viper.SetDefault("storage.credentials_file", "")
	viper.SetDefault("storage.workers", 4)
}
