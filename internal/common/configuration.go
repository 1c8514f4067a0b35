// Package common provides configuration management, database initialization,
// and error-taxonomy utilities shared across the ABAC policy core.
// nolint:all
package common

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// PrintSplash displays the service's ASCII art logo to the console. Called
// during application startup to confirm the service is starting.
func PrintSplash() {
	log.Printf(`
	 █████╗ ██████╗  █████╗  ██████╗
	██╔══██╗██╔══██╗██╔══██╗██╔════╝
	███████║██████╔╝███████║██║
	██╔══██║██╔══██╗██╔══██║██║
	██║  ██║██████╔╝██║  ██║╚██████╗
	╚═╝  ╚═╝╚═════╝ ╚═╝  ╚═╝ ╚═════╝
	policy compilation & evaluation core
	`)
}

// Config is the complete configuration for the policy core: the relational
// store connection, the Name->ID cache, and the audit queue. The HTTP/REST
// surface, OIDC, and CORS are owned by the calling service, not the core.
type Config struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
}

// PostgresConfig contains PostgreSQL database connection parameters,
// including connection pooling settings (§5, "pool with an overflow limit
// and pre-ping health check").
type PostgresConfig struct {
	Host                   string `yaml:"host"`                   // Database host address
	Port                   int    `yaml:"port"`                   // Database port (default: 5432)
	User                   string `yaml:"user"`                   // Database username
	Password               string `yaml:"password"`               // Database password
	DBName                 string `yaml:"dbname"`                 // Database name
	MaxOpenConnections     int    `yaml:"maxOpenConnections"`     // Maximum open connections (the overflow limit)
	MaxIdleConnections     int    `yaml:"maxIdleConnections"`     // Maximum idle connections
	ConnMaxLifetimeMinutes int    `yaml:"connMaxLifetimeMinutes"` // Connection lifetime in minutes
}

// CacheConfig controls the Name->ID cache's bounded TTL (§4.6).
type CacheConfig struct {
	TTLSeconds int `yaml:"ttlSeconds" mapstructure:"ttlSeconds"`
}

// AuditConfig controls the bounded audit-log queue (§5, §9).
type AuditConfig struct {
	QueueCapacity int `yaml:"queueCapacity" mapstructure:"queueCapacity"`
}

// LoadConfig loads configuration from a YAML file and environment variables.
//
// Precedence (highest to lowest): environment variables, configuration file,
// defaults. Environment variables use underscore notation (e.g.
// POSTGRES_HOST for postgres.host).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		log.Printf("Loading config from file: %s", configPath)
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Println("No config file provided — loading from environment variables only")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	log.Println("Configuration loaded successfully")
	PrintConfiguration(cfg)
	return cfg, nil
}

// setDefaults configures sensible defaults so the service runs against a
// local development Postgres without any configuration file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres.host", "db")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "admin")
	v.SetDefault("postgres.password", "admin123")
	v.SetDefault("postgres.dbname", "abacDB")
	v.SetDefault("postgres.maxOpenConnections", 50)
	v.SetDefault("postgres.maxIdleConnections", 50)
	v.SetDefault("postgres.connMaxLifetimeMinutes", 5)

	v.SetDefault("cache.ttlSeconds", 300)

	v.SetDefault("audit.queueCapacity", 1024)
}

// PrintConfiguration prints the current configuration with credentials
// redacted, for startup diagnostics.
func PrintConfiguration(cfg *Config) {
	cfgCopy := *cfg
	if cfgCopy.Postgres.Host != "" {
		cfgCopy.Postgres.Host = "****"
		cfgCopy.Postgres.User = "****"
		cfgCopy.Postgres.Password = "****"
	}

	configJSON, err := json.MarshalIndent(cfgCopy, "", "  ")
	if err != nil {
		log.Printf("Unable to marshal configuration to JSON: %v", err)
		return
	}
	log.Printf("Loaded configuration:\n%s", string(configJSON))
}
