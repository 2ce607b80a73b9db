package config

import "time"

// PipelineSettings tunes the worker pool and both retry tiers.
type PipelineSettings struct {
	Workers            int           `mapstructure:"workers" validate:"gte=1"`
	QueueSize          int           `mapstructure:"queue_size" validate:"gte=1"`
	UploadAttempts     int           `mapstructure:"upload_attempts" validate:"gte=1"`
	UploadInitialDelay time.Duration `mapstructure:"upload_initial_delay" validate:"gte=0"`
	UploadMultiplier   float64       `mapstructure:"upload_multiplier" validate:"gte=1"`
	RetryMaxAttempts   int           `mapstructure:"retry_max_attempts" validate:"gte=0"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay" validate:"gte=0"`
	RetryTickInterval  time.Duration `mapstructure:"retry_tick_interval" validate:"gt=0"`
	CacheRetention     time.Duration `mapstructure:"cache_retention" validate:"gt=0"`
	CacheSweepInterval time.Duration `mapstructure:"cache_sweep_interval" validate:"gt=0"`
	MaxImages          int           `mapstructure:"max_images" validate:"gte=1"`
	MaxImageSize       int           `mapstructure:"max_image_size" validate:"gte=1"`
}

// DefaultPipelineSettings returns the production retry schedule:
// 3 fast attempts 1s apart doubling, 3 slow attempts 5m*attempt apart checked every minute,
// and a one hour request cache.
func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		Workers:            4,
		QueueSize:          256,
		UploadAttempts:     3,
		UploadInitialDelay: time.Second,
		UploadMultiplier:   2,
		RetryMaxAttempts:   3,
		RetryBaseDelay:     5 * time.Minute,
		RetryTickInterval:  time.Minute,
		CacheRetention:     time.Hour,
		CacheSweepInterval: 10 * time.Minute,
		MaxImages:          10,
		MaxImageSize:       10 * 1024 * 1024,
	}
}
