package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads config.yaml from the usual locations, then applies .env and
// environment overrides (SERVER_PORT, MAIL_PROVIDER, SCHEDULER_INTERVAL, ...).
// A missing config file is not an error.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.demo_scenarios", false)
	v.SetDefault("database.path", "insurance.db")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("notifications.default_lead_days", 30)
	v.SetDefault("notifications.follow_up_lead_days", 10)
	v.SetDefault("notifications.deadline_lead_days", 0)
	v.SetDefault("mail.provider", "log")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.app_url", "http://localhost:3000")
	v.SetDefault("mail.aws_region", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lease_ttl", "30m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func loadEnvFile() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
	if root := findProjectRoot(); root != "" {
		_ = godotenv.Load(filepath.Join(root, ".env"))
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// applyDefaults fills values that decode to zero from an explicit empty setting.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5001
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "insurance.db"
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 6 * time.Hour
	}
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "log"
	}
	cfg.Mail.Provider = strings.ToLower(cfg.Mail.Provider)
	if cfg.Redis.LeaseTTL == 0 {
		cfg.Redis.LeaseTTL = 30 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Scheduler.Interval < 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}

	n := cfg.Notifications
	if n.DefaultLeadDays < 0 || n.FollowUpLeadDays < 0 || n.DeadlineLeadDays < 0 {
		return fmt.Errorf("notifications lead days must not be negative")
	}
	if n.DeadlineLeadDays > n.FollowUpLeadDays || n.FollowUpLeadDays > n.DefaultLeadDays {
		return fmt.Errorf("notifications lead days must satisfy deadline <= follow_up <= default")
	}

	switch cfg.Mail.Provider {
	case "log":
	case "ses":
		if cfg.Mail.From == "" {
			return fmt.Errorf("mail.from is required for the ses provider")
		}
		if cfg.Mail.AWSRegion == "" {
			return fmt.Errorf("mail.aws_region is required for the ses provider")
		}
	default:
		return fmt.Errorf("mail.provider %q is not supported", cfg.Mail.Provider)
	}

	if cfg.Redis.Enabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	return nil
}
