package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/email-guardian/")
	v.AddConfigPath("$HOME/.email-guardian")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("EMAIL_GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.sqlite_path", "/data/email_guardian.db")
	v.SetDefault("storage.mysql_dsn", "user:password@tcp(localhost:3306)/email_guardian?parseTime=true")

	// Classifier defaults
	v.SetDefault("classifier.escalation_threshold", 0.75)
	v.SetDefault("classifier.flagged_sender_floor", 0.6)
	v.SetDefault("classifier.min_training_samples", 10)
	v.SetDefault("classifier.min_vocabulary", 25)

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 4)

	// Ingest defaults
	v.SetDefault("ingest.max_body_size", 65536)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}
