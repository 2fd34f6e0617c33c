package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "CONFIGLEDGER"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "configledger.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "configledger_session"
	defaultSessionIssuer  = "configledger"
	defaultTokenTTL       = 30 * time.Minute
	defaultFeedHeartbeat  = 25 * time.Second
	defaultLogMaxSizeMB   = 100
	defaultLogMaxBackups  = 5
	defaultLogMaxAgeDays  = 28
	defaultAllowedOrigins = "*"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	LogFile           string
	LogMaxSizeMB      int
	LogMaxBackups     int
	LogMaxAgeDays     int
	SigningSecret     string
	SessionCookieName string
	SessionIssuer     string
	TokenTTL          time.Duration
	ExtraCategories   []string
	SecretPatterns    []string
	AllowedOrigins    []string
	FeedHeartbeat     time.Duration
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
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	configViper.SetDefault("log.max_backups", defaultLogMaxBackups)
	configViper.SetDefault("log.max_age_days", defaultLogMaxAgeDays)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("categories.extra", "")
	configViper.SetDefault("secrets.patterns", "")
	configViper.SetDefault("feed.heartbeat", defaultFeedHeartbeat)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		LogFile:           configViper.GetString("log.file"),
		LogMaxSizeMB:      configViper.GetInt("log.max_size_mb"),
		LogMaxBackups:     configViper.GetInt("log.max_backups"),
		LogMaxAgeDays:     configViper.GetInt("log.max_age_days"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		SessionCookieName: configViper.GetString("auth.cookie_name"),
		SessionIssuer:     configViper.GetString("auth.issuer"),
		TokenTTL:          configViper.GetDuration("auth.token_ttl"),
		ExtraCategories:   splitList(configViper.GetStringSlice("categories.extra")),
		SecretPatterns:    splitList(configViper.GetStringSlice("secrets.patterns")),
		AllowedOrigins:    splitList(configViper.GetStringSlice("http.allowed_origins")),
		FeedHeartbeat:     configViper.GetDuration("feed.heartbeat"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.FeedHeartbeat <= 0 {
		return fmt.Errorf("feed.heartbeat must be positive")
	}
	return nil
}

// splitList flattens comma separated entries so env values and YAML lists
// decode the same way.
func splitList(values []string) []string {
	var items []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				items = append(items, trimmed)
			}
		}
	}
	return items
}
