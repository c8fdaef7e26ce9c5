package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                    = "CINDER"
	defaultHTTPAddress           = "0.0.0.0:8080"
	defaultDatabasePath          = "cinder.db"
	defaultLogLevel              = "info"
	defaultNoteMaxRetentionHours = 168
	defaultChatTTLHours          = 24
	defaultSweepIntervalMinutes  = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	NoteMaxRetention time.Duration
	ChatDefaultTTL   time.Duration
	SweepInterval    time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("note.max_retention_hours", defaultNoteMaxRetentionHours)
	configViper.SetDefault("chat.default_ttl_hours", defaultChatTTLHours)
	configViper.SetDefault("sweep.interval_minutes", defaultSweepIntervalMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		NoteMaxRetention: time.Duration(configViper.GetInt("note.max_retention_hours")) * time.Hour,
		ChatDefaultTTL:   time.Duration(configViper.GetInt("chat.default_ttl_hours")) * time.Hour,
		SweepInterval:    time.Duration(configViper.GetInt("sweep.interval_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.NoteMaxRetention <= 0 {
		return fmt.Errorf("note.max_retention_hours must be positive")
	}
	if c.ChatDefaultTTL <= 0 {
		return fmt.Errorf("chat.default_ttl_hours must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep.interval_minutes must be positive")
	}
	return nil
}
