package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "TABSPLIT"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "tabsplit.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultRedisAddress   = "127.0.0.1:6379"
	defaultRedisKeyPrefix = "tabsplit:"
	defaultReceiptModel   = "gemini-2.5-flash"
	defaultMaxUploadBytes = 10 << 20
	defaultSendBuffer     = 16

	// StoreDriverSQLite keeps session documents in a local SQLite file.
	StoreDriverSQLite = "sqlite"
	// StoreDriverRedis keeps session documents in Redis.
	StoreDriverRedis = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	LogLevel       string
	LogFormat      string
	StoreDriver    string
	DatabasePath   string
	Redis          RedisConfig
	Receipts       ReceiptsConfig
	SendBuffer     int
	AllowedOrigins []string
}

// RedisConfig describes the Redis document store.
type RedisConfig struct {
	Address    string
	Password   string
	DB         int
	KeyPrefix  string
	SessionTTL time.Duration
}

// ReceiptsConfig describes the receipt extraction collaborator.
type ReceiptsConfig struct {
	GeminiAPIKey   string
	Model          string
	MaxUploadBytes int64
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("store.driver", StoreDriverSQLite)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.key_prefix", defaultRedisKeyPrefix)
	configViper.SetDefault("redis.session_ttl", time.Duration(0))
	configViper.SetDefault("receipts.gemini_api_key", "")
	configViper.SetDefault("receipts.model", defaultReceiptModel)
	configViper.SetDefault("receipts.max_upload_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
	configViper.SetDefault("cors.allowed_origins", []string{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		LogLevel:     configViper.GetString("log.level"),
		LogFormat:    configViper.GetString("log.format"),
		StoreDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		DatabasePath: configViper.GetString("database.path"),
		Redis: RedisConfig{
			Address:    configViper.GetString("redis.address"),
			Password:   configViper.GetString("redis.password"),
			DB:         configViper.GetInt("redis.db"),
			KeyPrefix:  configViper.GetString("redis.key_prefix"),
			SessionTTL: configViper.GetDuration("redis.session_ttl"),
		},
		Receipts: ReceiptsConfig{
			GeminiAPIKey:   configViper.GetString("receipts.gemini_api_key"),
			Model:          configViper.GetString("receipts.model"),
			MaxUploadBytes: configViper.GetInt64("receipts.max_upload_bytes"),
		},
		SendBuffer:     configViper.GetInt("realtime.send_buffer"),
		AllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
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
	switch c.StoreDriver {
	case StoreDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case StoreDriverRedis:
		if strings.TrimSpace(c.Redis.Address) == "" {
			return fmt.Errorf("redis.address is required")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StoreDriverSQLite, StoreDriverRedis, c.StoreDriver)
	}
	if c.Redis.SessionTTL < 0 {
		return fmt.Errorf("redis.session_ttl must not be negative")
	}
	if c.Receipts.MaxUploadBytes <= 0 {
		return fmt.Errorf("receipts.max_upload_bytes must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
