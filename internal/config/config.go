package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Renderer  RendererConfig  `mapstructure:"renderer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Prefs     PrefsConfig     `mapstructure:"prefs"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"required,min=1,max=65535"`
}

// CacheConfig contains thumbnail cache configuration
type CacheConfig struct {
	Capacity int `mapstructure:"capacity" validate:"min=0"`
}

// RendererConfig contains page rasterization settings
type RendererConfig struct {
	JPEGQuality          int `mapstructure:"jpeg_quality" validate:"min=1,max=100"`
	MaxConcurrentRenders int `mapstructure:"max_concurrent_renders" validate:"min=1"`
}

// SchedulerConfig contains viewport prefetch settings
type SchedulerConfig struct {
	ThumbnailWidth  int `mapstructure:"thumbnail_width" validate:"min=1"`
	ThumbnailHeight int `mapstructure:"thumbnail_height" validate:"min=1"`
	Gap             int `mapstructure:"gap" validate:"min=0"`
	MinColumns      int `mapstructure:"min_columns" validate:"min=1"`
	BufferRows      int `mapstructure:"buffer_rows" validate:"min=0"`
	BatchSize       int `mapstructure:"batch_size" validate:"min=1"`
}

// DispatchConfig contains per-document worker settings
type DispatchConfig struct {
	QueueSize int `mapstructure:"queue_size" validate:"min=1"`
}

// PrefsConfig contains the preferences store location
type PrefsConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// Get returns the singleton configuration instance
func Get() *Config {
	once.Do(func() {
		if instance == nil {
			instance = &Config{}
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Load initializes and loads configuration from file and environment variables
func Load(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	// Set default values
	setDefaults()

	// Load from file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables
	bindEnvVars()

	// Unmarshal configuration
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	instance = cfg
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Cache defaults
	// Вместимость в миниатюрах, не в байтах
	viper.SetDefault("cache.capacity", 64)

	// Renderer defaults
	viper.SetDefault("renderer.jpeg_quality", 80)
	viper.SetDefault("renderer.max_concurrent_renders", 4)

	// Scheduler defaults
	viper.SetDefault("scheduler.thumbnail_width", 153)
	viper.SetDefault("scheduler.thumbnail_height", 198)
	viper.SetDefault("scheduler.gap", 10)
	viper.SetDefault("scheduler.min_columns", 1)
	viper.SetDefault("scheduler.buffer_rows", 0)
	viper.SetDefault("scheduler.batch_size", 3)

	// Dispatch defaults
	viper.SetDefault("dispatch.queue_size", 32)

	// Prefs defaults
	viper.SetDefault("prefs.path", "data/prefs.json")
}

// bindEnvVars binds environment variables to viper keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.host", "APP_SERVER_HOST")
	viper.BindEnv("server.port", "APP_SERVER_PORT")

	// Cache
	viper.BindEnv("cache.capacity", "APP_CACHE_CAPACITY")

	// Renderer
	viper.BindEnv("renderer.jpeg_quality", "APP_RENDERER_JPEG_QUALITY")
	viper.BindEnv("renderer.max_concurrent_renders", "APP_RENDERER_MAX_CONCURRENT_RENDERS")

	// Scheduler
	viper.BindEnv("scheduler.thumbnail_width", "APP_SCHEDULER_THUMBNAIL_WIDTH")
	viper.BindEnv("scheduler.thumbnail_height", "APP_SCHEDULER_THUMBNAIL_HEIGHT")
	viper.BindEnv("scheduler.gap", "APP_SCHEDULER_GAP")
	viper.BindEnv("scheduler.min_columns", "APP_SCHEDULER_MIN_COLUMNS")
	viper.BindEnv("scheduler.buffer_rows", "APP_SCHEDULER_BUFFER_ROWS")
	viper.BindEnv("scheduler.batch_size", "APP_SCHEDULER_BATCH_SIZE")

	// Dispatch
	viper.BindEnv("dispatch.queue_size", "APP_DISPATCH_QUEUE_SIZE")

	// Prefs
	viper.BindEnv("prefs.path", "APP_PREFS_PATH")
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	// Validate Server
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate Cache
	if cfg.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must be non-negative")
	}

	// Validate Renderer
	if cfg.Renderer.JPEGQuality < 1 || cfg.Renderer.JPEGQuality > 100 {
		return fmt.Errorf("renderer.jpeg_quality must be between 1 and 100")
	}
	if cfg.Renderer.MaxConcurrentRenders < 1 {
		return fmt.Errorf("renderer.max_concurrent_renders must be at least 1")
	}

	// Validate Scheduler
	if cfg.Scheduler.ThumbnailWidth < 1 {
		return fmt.Errorf("scheduler.thumbnail_width must be at least 1")
	}
	if cfg.Scheduler.ThumbnailHeight < 1 {
		return fmt.Errorf("scheduler.thumbnail_height must be at least 1")
	}
	if cfg.Scheduler.Gap < 0 {
		return fmt.Errorf("scheduler.gap must be non-negative")
	}
	if cfg.Scheduler.MinColumns < 1 {
		return fmt.Errorf("scheduler.min_columns must be at least 1")
	}
	if cfg.Scheduler.BufferRows < 0 {
		return fmt.Errorf("scheduler.buffer_rows must be non-negative")
	}
	if cfg.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler.batch_size must be at least 1")
	}

	// Validate Dispatch
	if cfg.Dispatch.QueueSize < 1 {
		return fmt.Errorf("dispatch.queue_size must be at least 1")
	}

	// Validate Prefs
	if cfg.Prefs.Path == "" {
		return fmt.Errorf("prefs.path is required")
	}

	return nil
}

// Reload reloads the configuration (thread-safe)
func Reload(configPath string) error {
	mu.Lock()
	// Reset instance to allow reload
	instance = nil
	once = sync.Once{}
	mu.Unlock()

	return Load(configPath)
}
