// Package config loads usbctl settings from an optional YAML file, USBCTL_
// environment variables, and flag overrides, in that precedence order
// (lowest to highest).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel      zerolog.Level
	BlockSize     int64
	Hashes        []string
	ReportDir     string
	InventoryWait time.Duration
	AssumeYes     bool
}

// Defaults applied before any file, env, or flag is consulted.
const (
	DefaultBlockSize     = 4 << 20 // 4 MiB
	DefaultInventoryWait = 5 * time.Second
)

// Load reads the config file (explicit path, or the first
// $HOME/.config/usbctl/config.yaml found) plus USBCTL_ environment
// variables. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("block_size", int64(DefaultBlockSize))
	v.SetDefault("hashes", []string{"sha256"})
	v.SetDefault("report_dir", "")
	v.SetDefault("inventory_wait", DefaultInventoryWait)
	v.SetDefault("assume_yes", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/usbctl")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("USBCTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	level, err := zerolog.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid log level %q", v.GetString("log_level"))
	}

	cfg := Config{
		LogLevel:      level,
		BlockSize:     v.GetInt64("block_size"),
		Hashes:        v.GetStringSlice("hashes"),
		ReportDir:     v.GetString("report_dir"),
		InventoryWait: v.GetDuration("inventory_wait"),
		AssumeYes:     v.GetBool("assume_yes"),
	}
	if cfg.BlockSize <= 0 {
		return Config{}, fmt.Errorf("block_size must be positive, got %d", cfg.BlockSize)
	}
	if cfg.InventoryWait <= 0 {
		cfg.InventoryWait = DefaultInventoryWait
	}
	return cfg, nil
}

// Logger builds the console logger every command writes through.
func Logger(cfg Config, verbose bool) zerolog.Logger {
	level := cfg.LogLevel
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
