// Package config loads tasksync settings from config.yaml and TASKSYNC_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "tasksync"
	configName = "config"
	configFile = configName + ".yaml"
	envPrefix  = "TASKSYNC"

	DefaultCalendar = "Tasks"
	StoreFile       = "file"
	StoreSQLite     = "sqlite"
)

type Config struct {
	Calendar        string        `mapstructure:"calendar" yaml:"calendar"`
	Store           string        `mapstructure:"store" yaml:"store"`
	DataDir         string        `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	DeliverInterval time.Duration `mapstructure:"deliver_interval" yaml:"deliver_interval"`
	NotifyLimit     int           `mapstructure:"notify_limit" yaml:"notify_limit"`
}

// Default returns the settings used when no config file exists.
func Default() *Config {
	return &Config{
		Calendar:        DefaultCalendar,
		Store:           StoreFile,
		SweepInterval:   24 * time.Hour,
		DeliverInterval: time.Minute,
		NotifyLimit:     64,
	}
}

// Dir is the directory holding the config file, credentials and, unless
// data_dir overrides it, the task data.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, xdgAppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// Load reads the config from the default location.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom reads config.yaml from dir. A missing file yields the defaults,
// still subject to environment overrides.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("calendar", def.Calendar)
	v.SetDefault("store", def.Store)
	v.SetDefault("data_dir", dir)
	v.SetDefault("sweep_interval", def.SweepInterval)
	v.SetDefault("deliver_interval", def.DeliverInterval)
	v.SetDefault("notify_limit", def.NotifyLimit)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Calendar == "" {
		cfg.Calendar = DefaultCalendar
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("unknown store %q, expected %q or %q", c.Store, StoreFile, StoreSQLite)
	}
	if c.SweepInterval <= 0 || c.DeliverInterval <= 0 {
		return errors.New("sweep_interval and deliver_interval must be positive")
	}
	if c.NotifyLimit <= 0 {
		return errors.New("notify_limit must be positive")
	}
	return nil
}

// Save writes the config to the default location.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return SaveTo(dir, cfg)
}

func SaveTo(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, configFile), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return err
	}
	return encoder.Close()
}
