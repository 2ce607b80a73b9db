package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. IMAGEPIPE_DATABASE_TYPE.
const EnvPrefix = "IMAGEPIPE"

type Settings struct {
	Database      DbSettings       `mapstructure:"database"`
	Storage       StorageSettings  `mapstructure:"storage"`
	Broker        BrokerSettings   `mapstructure:"broker"`
	Pipeline      PipelineSettings `mapstructure:"pipeline"`
	Observability Observability    `mapstructure:"observability"`
	Logging       LogSettings      `mapstructure:"logging"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// LoadFromFile reads pipeline.yaml (and pipeline.<ENVIRONMENT>.yaml when present) from filePath,
// applies environment overrides and validates the result.
func LoadFromFile(filePath string) (*Settings, error) {
	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	setDefaults()
	viper.SetConfigType("yaml")
	viper.SetConfigName("pipeline")
	viper.AddConfigPath(filePath)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	if err := mergeConfig(filePath, "pipeline."+env); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	setDefaults()
	viper.AutomaticEnv()
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range boundKeys {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}

	return viper.Unmarshal(c)
}

var boundKeys = []string{
	"database.type",
	"database.dsn",
	"database.uri",
	"database.name",
	"database.collection",
	"database.table",
	"database.region",
	"database.endpoint",
	"storage.type",
	"storage.endpoint",
	"storage.region",
	"storage.bucket",
	"storage.access_key",
	"storage.secret_key",
	"storage.public_url",
	"storage.use_path_style",
	"storage.project_id",
	"broker.type",
	"broker.url",
	"broker.exchange",
	"broker.project_id",
	"broker.pool_size",
	"broker.brokers",
	"broker.topic",
	"pipeline.workers",
	"pipeline.queue_size",
	"pipeline.upload_attempts",
	"pipeline.upload_initial_delay",
	"pipeline.upload_multiplier",
	"pipeline.retry_max_attempts",
	"pipeline.retry_base_delay",
	"pipeline.retry_tick_interval",
	"pipeline.cache_retention",
	"pipeline.cache_sweep_interval",
	"pipeline.max_images",
	"pipeline.max_image_size",
	"observability.service_name",
	"observability.tracing_url",
	"observability.metrics_url",
	"logging.level",
	"logging.format",
	"logging.development",
}

func setDefaults() {
	defaults := DefaultPipelineSettings()
	viper.SetDefault("database.type", "memory")
	viper.SetDefault("database.table", "product_creation_logs")
	viper.SetDefault("database.collection", "product_creation_logs")
	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.bucket", "product-images")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("broker.type", "none")
	viper.SetDefault("broker.pool_size", 5)
	viper.SetDefault("broker.topic", "product-images")
	viper.SetDefault("pipeline.workers", defaults.Workers)
	viper.SetDefault("pipeline.queue_size", defaults.QueueSize)
	viper.SetDefault("pipeline.upload_attempts", defaults.UploadAttempts)
	viper.SetDefault("pipeline.upload_initial_delay", defaults.UploadInitialDelay)
	viper.SetDefault("pipeline.upload_multiplier", defaults.UploadMultiplier)
	viper.SetDefault("pipeline.retry_max_attempts", defaults.RetryMaxAttempts)
	viper.SetDefault("pipeline.retry_base_delay", defaults.RetryBaseDelay)
	viper.SetDefault("pipeline.retry_tick_interval", defaults.RetryTickInterval)
	viper.SetDefault("pipeline.cache_retention", defaults.CacheRetention)
	viper.SetDefault("pipeline.cache_sweep_interval", defaults.CacheSweepInterval)
	viper.SetDefault("pipeline.max_images", defaults.MaxImages)
	viper.SetDefault("pipeline.max_image_size", defaults.MaxImageSize)
	viper.SetDefault("observability.service_name", "image-pipeline")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	return viper.MergeInConfig()
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
