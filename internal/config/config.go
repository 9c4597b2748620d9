package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string `mapstructure:"PORT"`
	AllowedOrigin         string `mapstructure:"ALLOWED_ORIGIN"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	SQLitePath            string `mapstructure:"SQLITE_PATH"`
	RedisAddr             string `mapstructure:"REDIS_ADDR"`
	RedisPassword         string `mapstructure:"REDIS_PASSWORD"`
	RedisDB               int    `mapstructure:"REDIS_DB"`
	AuthSecret            string `mapstructure:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	GiftWindowSeconds     int    `mapstructure:"GIFT_WINDOW_SECONDS"`
	UndoWindowSeconds     int    `mapstructure:"UNDO_WINDOW_SECONDS"`
	LogLevel              string `mapstructure:"LOG_LEVEL"`
	SeedAdminPIN          string `mapstructure:"SEED_ADMIN_PIN"`
	SeedCustomerPIN       string `mapstructure:"SEED_CUSTOMER_PIN"`
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"ALLOWED_ORIGIN":           "http://127.0.0.1:3000",
	"DATABASE_URL":             "",
	"SQLITE_PATH":              "",
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"AUTH_SECRET":              "",
	"ACCESS_TOKEN_TTL_MINUTES": 480,
	"GIFT_WINDOW_SECONDS":      120,
	"UNDO_WINDOW_SECONDS":      300,
	"LOG_LEVEL":                "info",
	"SEED_ADMIN_PIN":           "",
	"SEED_CUSTOMER_PIN":        "",
}

// Load reads the environment, optionally layered over the dotenv file named
// by CONFIG_FILE. Every key needs a default or viper will not bind it from
// the environment during Unmarshal.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.SeedAdminPIN = strings.TrimSpace(cfg.SeedAdminPIN)
	cfg.SeedCustomerPIN = strings.TrimSpace(cfg.SeedCustomerPIN)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = defaults["ACCESS_TOKEN_TTL_MINUTES"].(int)
	}
	if cfg.GiftWindowSeconds < 1 {
		cfg.GiftWindowSeconds = defaults["GIFT_WINDOW_SECONDS"].(int)
	}
	if cfg.UndoWindowSeconds < 1 {
		cfg.UndoWindowSeconds = defaults["UNDO_WINDOW_SECONDS"].(int)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) GiftWindow() time.Duration {
	return time.Duration(c.GiftWindowSeconds) * time.Second
}

func (c Config) UndoWindow() time.Duration {
	return time.Duration(c.UndoWindowSeconds) * time.Second
}
