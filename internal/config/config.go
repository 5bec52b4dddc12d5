package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Serial connection
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Firmware sources
	BinsURL  string `mapstructure:"bins-url"`
	S3Region string `mapstructure:"s3-region"`

	// Working directories
	WorkDir   string `mapstructure:"work-dir"`
	BackupDir string `mapstructure:"backup-dir"`

	// Image limits
	MaxImageSize int64 `mapstructure:"max-image-size"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("port", "")
	viper.SetDefault("baud", 115200)
	viper.SetDefault("sqlite-path", ".artifacts/history.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("bins-url", "http://ota.tasmota.com")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("work-dir", "/tmp/tasmoflash")
	viper.SetDefault("backup-dir", ".")
	viper.SetDefault("max-image-size", 16*1024*1024)

	// Environment variables (will be TASMO_PORT, TASMO_BINS_URL, etc.)
	viper.SetEnvPrefix("TASMO")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.tasmoflash")

	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.BinsURL == "" {
		return fmt.Errorf("bins-url cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	return nil
}
