// Package config holds the service configuration and its loader.
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Mail          MailConfig         `mapstructure:"mail"`
	Redis         RedisConfig        `mapstructure:"redis"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	DemoScenarios  bool     `mapstructure:"demo_scenarios"` // exposes /api/scenarios, which wipes data
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig controls the notification sweep.
type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// NotificationConfig seeds the notification settings row when none exists.
type NotificationConfig struct {
	DefaultLeadDays  int `mapstructure:"default_lead_days"`
	FollowUpLeadDays int `mapstructure:"follow_up_lead_days"`
	DeadlineLeadDays int `mapstructure:"deadline_lead_days"`
}

type MailConfig struct {
	Provider  string `mapstructure:"provider"` // "log" or "ses"
	From      string `mapstructure:"from"`
	AppURL    string `mapstructure:"app_url"`
	AWSRegion string `mapstructure:"aws_region"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
