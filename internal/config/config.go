// Package config loads boardreplica settings from a config file, the
// environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configFileName = "boardreplica"
	envPrefix      = "BOARDREPLICA"
)

// Keys.
const (
	KeyHistoryLimit       = "history_limit"
	KeyDatabase           = "database"
	KeyServerURL          = "server_url"
	KeyWorkspaceID        = "workspace_id"
	KeyUser               = "user"
	KeyListen             = "listen"
	KeyLogLevel           = "log_level"
	KeyReconnectInterval  = "reconnect_interval"
	KeyTombstoneRetention = "tombstone_retention"
)

// Defaults.
const (
	DefaultHistoryLimit       = 100
	DefaultDatabase           = "./boardreplica.db"
	DefaultServerURL          = "http://localhost:8000"
	DefaultWorkspaceID        = "0"
	DefaultListen             = ":8000"
	DefaultLogLevel           = "info"
	DefaultReconnectInterval  = time.Second
	DefaultTombstoneRetention = 10 * time.Minute
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the resolved settings.
type Config struct {
	HistoryLimit       int           `mapstructure:"history_limit"`
	Database           string        `mapstructure:"database"`
	ServerURL          string        `mapstructure:"server_url"`
	WorkspaceID        string        `mapstructure:"workspace_id"`
	User               string        `mapstructure:"user"`
	Listen             string        `mapstructure:"listen"`
	LogLevel           string        `mapstructure:"log_level"`
	ReconnectInterval  time.Duration `mapstructure:"reconnect_interval"`
	TombstoneRetention time.Duration `mapstructure:"tombstone_retention"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HistoryLimit:       DefaultHistoryLimit,
		Database:           DefaultDatabase,
		ServerURL:          DefaultServerURL,
		WorkspaceID:        DefaultWorkspaceID,
		Listen:             DefaultListen,
		LogLevel:           DefaultLogLevel,
		ReconnectInterval:  DefaultReconnectInterval,
		TombstoneRetention: DefaultTombstoneRetention,
	}
}

// Load resolves the configuration.
//
// When path is empty, boardreplica.{yaml,json} is looked up in the working
// directory and in $HOME/.boardreplica, and a missing file is not an error.
// An explicit path must exist. Environment variables BOARDREPLICA_<KEY>
// override the file. Flags in flags whose name is a key with dashes for
// underscores (history-limit, server-url, ...) override both when set.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.boardreplica")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if flags != nil {
		for _, key := range keys() {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyHistoryLimit, d.HistoryLimit)
	v.SetDefault(KeyDatabase, d.Database)
	v.SetDefault(KeyServerURL, d.ServerURL)
	v.SetDefault(KeyWorkspaceID, d.WorkspaceID)
	v.SetDefault(KeyUser, d.User)
	v.SetDefault(KeyListen, d.Listen)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyReconnectInterval, d.ReconnectInterval)
	v.SetDefault(KeyTombstoneRetention, d.TombstoneRetention)
}

func keys() []string {
	return []string{
		KeyHistoryLimit, KeyDatabase, KeyServerURL, KeyWorkspaceID, KeyUser,
		KeyListen, KeyLogLevel, KeyReconnectInterval, KeyTombstoneRetention,
	}
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyHistoryLimit, c.HistoryLimit))
	}
	if c.Database == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyDatabase))
	}
	if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("%s must be an http(s) url, got %q", KeyServerURL, c.ServerURL))
	}
	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyListen))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyReconnectInterval, c.ReconnectInterval))
	}
	if c.TombstoneRetention < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %s", KeyTombstoneRetention, c.TombstoneRetention))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Level returns the slog level named by LogLevel, or slog.LevelInfo when
// it is not valid.
func (c *Config) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%s must be one of debug, info, warn, error; got %q", KeyLogLevel, s)
}
