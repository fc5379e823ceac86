// Package config provides configuration management for the Sentramon
// monitoring server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	HA       HANodeConfig   `mapstructure:"ha"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the ambient HTTP status/health surface configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// HANodeConfig holds the external inputs the HA control subsystem reads
// once at start (spec §6 "Configuration inputs").
type HANodeConfig struct {
	// NodeName identifies this node's row. Empty means standalone mode.
	NodeName string `mapstructure:"node_name"`

	// ExternalAddress is advertised to peers, host[:port]. Falls back to
	// the first entry of ListenIP, then to "localhost".
	ExternalAddress string `mapstructure:"external_address"`

	// ListenIP is a comma-separated list of listen addresses; only the
	// first entry is used as an ExternalAddress fallback.
	ListenIP string `mapstructure:"listen_ip"`

	// ListenPort is used when no port is embedded in the address source.
	ListenPort int `mapstructure:"listen_port"`

	// SocketPath is the unix domain socket the control channel listens
	// on (spec §4.D - "a named, local, message-oriented service").
	SocketPath string `mapstructure:"socket_path"`
}

// IsCluster reports whether this node runs in cluster (named) mode.
func (c HANodeConfig) IsCluster() bool {
	return c.NodeName != ""
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SENTRAMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 10500)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "sentramon")
	v.SetDefault("database.user", "sentramon")
	v.SetDefault("database.password", "sentramon")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("ha.node_name", "")
	v.SetDefault("ha.external_address", "")
	v.SetDefault("ha.listen_ip", "")
	v.SetDefault("ha.listen_port", 10051)
	v.SetDefault("ha.socket_path", "/tmp/sentramon-ha.sock")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
