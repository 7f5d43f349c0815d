// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the Questline bot.
type Config struct {
	AppEnv string `mapstructure:"-"`

	Server    ServerConfig    `mapstructure:"server"`
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Narrative NarrativeConfig `mapstructure:"narrative" validate:"required"`
	Rewards   RewardsConfig   `mapstructure:"rewards"`
	Events    EventsConfig    `mapstructure:"events"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	Achievements AchievementsConfig `mapstructure:"achievements"`
}

type AchievementsConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type BotConfig struct {
	Token   string        `mapstructure:"token" validate:"required"`
	Mode    string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     string `mapstructure:"port" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	MigrationsDir string `mapstructure:"migrations_dir"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`

	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SentryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type NarrativeConfig struct {
	StartFragmentID string `mapstructure:"start_fragment_id" validate:"required"`
	ContentDir      string `mapstructure:"content_dir" validate:"required"`
}

type RewardsConfig struct {
	DailyBonusAmount   int64 `mapstructure:"daily_bonus_amount"`
	AccessPricePerDay  int64 `mapstructure:"access_price_per_day"`
	MaxRedeemableDays  int   `mapstructure:"max_redeemable_days"`
	InitialGrantAmount int64 `mapstructure:"initial_grant_amount"`
}

type EventsConfig struct {
	HistorySize    int           `mapstructure:"history_size"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

type ReconcileConfig struct {
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	BatchSize     int           `mapstructure:"batch_size"`
	UserPause     time.Duration `mapstructure:"user_pause"`
}

type RateLimitConfig struct {
	PerUserLimit  int           `mapstructure:"per_user_limit"`
	PerUserWindow time.Duration `mapstructure:"per_user_window"`
	Whitelist     []int64       `mapstructure:"whitelist"`
}

// DSN returns the PostgreSQL connection string based on config values.
func (c DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		sslMode,
	)
}
