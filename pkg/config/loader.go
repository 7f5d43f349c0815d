package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables,
// validates it, and returns the resulting Config alongside the viper
// instance for hot-reload wiring.
func Load() (*Config, *viper.Viper, error) {
	// Missing env files are fine outside local development.
	_ = godotenv.Load(".env.local", ".env")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := unmarshal(v, env)
	if err != nil {
		return nil, nil, err
	}

	return cfg, v, nil
}

// Watch re-reads the config file on change and hands the re-validated Config
// to onReload. Invalid edits are logged and skipped, keeping the last good
// configuration in effect.
func Watch(v *viper.Viper, env string, log *slog.Logger, onReload func(*Config)) {
	if v == nil || onReload == nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshal(v, env)
		if err != nil {
			if log != nil {
				log.Error("config reload rejected", slog.String("file", e.Name), slog.Any("error", err))
			}
			return
		}

		if log != nil {
			log.Info("config reloaded", slog.String("file", e.Name))
		}

		onReload(cfg)
	})
	v.WatchConfig()
}

func unmarshal(v *viper.Viper, env string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.timeout", "10s")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("narrative.content_dir", "content")
	v.SetDefault("rewards.daily_bonus_amount", 10)
	v.SetDefault("rewards.access_price_per_day", 50)
	v.SetDefault("rewards.max_redeemable_days", 30)
	v.SetDefault("events.history_size", 256)
	v.SetDefault("events.handler_timeout", "5s")
	v.SetDefault("reconcile.sweep_schedule", "*/15 * * * *")
	v.SetDefault("reconcile.batch_size", 100)
	v.SetDefault("reconcile.user_pause", "50ms")
	v.SetDefault("rate_limit.per_user_limit", 20)
	v.SetDefault("rate_limit.per_user_window", "1m")
	v.SetDefault("achievements.registry_path", "content/achievements.yaml")
	v.SetDefault("rewards.initial_grant_amount", 100)
}
