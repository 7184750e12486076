package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Sweep   SweepConfig   `mapstructure:"sweep" yaml:"sweep"`
}

// LoggerConfig controls the console and file log sinks.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// BrowserConfig controls the Chrome allocator and per-tab behavior.
type BrowserConfig struct {
	Headless     bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth  int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int           `mapstructure:"window_height" yaml:"window_height"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout" yaml:"nav_timeout"`
	PostLoadWait time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// SweepConfig tunes the harvest loop and the sweep command.
type SweepConfig struct {
	// ItemSelector matches the actionable elements; FilledClass is the class
	// the host page adds once an item has been acted on.
	ItemSelector string `mapstructure:"item_selector" yaml:"item_selector"`
	FilledClass  string `mapstructure:"filled_class" yaml:"filled_class"`

	ActionDelay    time.Duration `mapstructure:"action_delay" yaml:"action_delay"`
	GrowthAttempts int           `mapstructure:"growth_attempts" yaml:"growth_attempts"`
	GrowthPause    time.Duration `mapstructure:"growth_pause" yaml:"growth_pause"`
	ChangeTimeout  time.Duration `mapstructure:"change_timeout" yaml:"change_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`

	// MaxIdleCycles is the no-progress threshold that ends a run. It is a
	// policy knob, not an exhaustion proof; raise it for slow hosts.
	MaxIdleCycles int `mapstructure:"max_idle_cycles" yaml:"max_idle_cycles"`

	// Concurrency bounds how many targets are swept in parallel.
	Concurrency int  `mapstructure:"concurrency" yaml:"concurrency"`
	DryRun      bool `mapstructure:"dry_run" yaml:"dry_run"`

	// Output is the path of the JSON run report; empty disables it.
	Output string `mapstructure:"output" yaml:"output"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "favsweep")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.nav_timeout", "45s")
	v.SetDefault("browser.post_load_wait", "2s")

	// -- Sweep --
	v.SetDefault("sweep.item_selector", ".favorite-icon")
	v.SetDefault("sweep.filled_class", "filled")
	v.SetDefault("sweep.action_delay", "350ms")
	v.SetDefault("sweep.growth_attempts", 4)
	v.SetDefault("sweep.growth_pause", "600ms")
	v.SetDefault("sweep.change_timeout", "8s")
	v.SetDefault("sweep.settle_delay", "750ms")
	v.SetDefault("sweep.max_idle_cycles", 3)
	v.SetDefault("sweep.concurrency", 1)
	v.SetDefault("sweep.dry_run", false)
	v.SetDefault("sweep.output", "")
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Defaults must always unmarshal and validate.
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for values the rest of the program cannot
// work with.
func (c *Config) Validate() error {
	if c.Sweep.ItemSelector == "" {
		return fmt.Errorf("sweep.item_selector must not be empty")
	}
	if c.Sweep.MaxIdleCycles < 1 {
		return fmt.Errorf("sweep.max_idle_cycles must be at least 1, got %d", c.Sweep.MaxIdleCycles)
	}
	if c.Sweep.GrowthAttempts < 1 {
		return fmt.Errorf("sweep.growth_attempts must be at least 1, got %d", c.Sweep.GrowthAttempts)
	}
	if c.Sweep.Concurrency < 1 {
		return fmt.Errorf("sweep.concurrency must be at least 1, got %d", c.Sweep.Concurrency)
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window dimensions must be positive, got %dx%d",
			c.Browser.WindowWidth, c.Browser.WindowHeight)
	}
	if c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("browser.nav_timeout must be positive, got %s", c.Browser.NavTimeout)
	}
	return nil
}
