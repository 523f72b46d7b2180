// Package config loads the broker's YAML configuration file the way the
// rest of the codebase reads its own settings: parse with gopkg.in/yaml.v3,
// validate with go-playground/validator, and let secrets be overridden by
// environment variables instead of living in the file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/bus"
)

// Config is the root of the broker's configuration file.
type Config struct {
	Default string                 `yaml:"default" validate:"required"`
	Servers map[string]ServerConfig `yaml:"servers" validate:"required,min=1,dive"`
	Apps    AppsConfig             `yaml:"apps" validate:"required"`
}

// ServerConfig is one named server profile.
type ServerConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"required"`
	Path            string        `yaml:"path"`
	Hostname        string        `yaml:"hostname"`
	MaxRequestSize  int64         `yaml:"max_request_size"`
	Scaling         ScalingConfig `yaml:"scaling"`
	TLS             *TLSConfig    `yaml:"tls"`
}

// ScalingConfig enables the external pub/sub bus for this server profile.
type ScalingConfig struct {
	Enabled bool         `yaml:"enabled"`
	Channel string       `yaml:"channel"`
	Server  ScalingServer `yaml:"server"`
}

// ScalingServer is the bus backend's own connection settings.
type ScalingServer struct {
	URL        string `yaml:"url"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TLS        bool   `yaml:"tls"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// TLSConfig points at a cert/key pair for the admin HTTP server.
type TLSConfig struct {
	CertPath string `yaml:"cert_path" validate:"required"`
	KeyPath  string `yaml:"key_path" validate:"required"`
}

// AppsConfig is the application directory. Only the "config" provider
// (apps enumerated inline) is implemented; any other provider value is
// rejected at load time.
type AppsConfig struct {
	Provider string      `yaml:"provider" validate:"required,eq=config"`
	Apps     []AppConfig `yaml:"apps" validate:"required,min=1,dive"`
}

// AppConfig is one application's descriptor as it appears in the file.
type AppConfig struct {
	AppID              string   `yaml:"app_id" validate:"required"`
	Key                string   `yaml:"key" validate:"required"`
	Secret             string   `yaml:"secret" validate:"required"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	PingInterval       int      `yaml:"ping_interval" validate:"required,gt=0"`
	ActivityTimeout    int      `yaml:"activity_timeout" validate:"required,gt=0"`
	MaxConnections     int      `yaml:"max_connections"`
	MaxMessageSize     int      `yaml:"max_message_size"`
}

var validate = validator.New()

// Load reads and validates the YAML config file at path, expanding any
// ${VAR}-shaped secret fields against the process environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	expandSecrets(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	if _, ok := cfg.Servers[cfg.Default]; !ok {
		return nil, fmt.Errorf("config: default server profile %q not defined", cfg.Default)
	}
	return &cfg, nil
}

// expandSecrets resolves "${VAR}"-shaped values for every secret-bearing
// field against the environment, so secrets never need to live in the file
// itself.
func expandSecrets(cfg *Config) {
	for name, server := range cfg.Servers {
		server.Scaling.Server.Password = expandEnv(server.Scaling.Server.Password)
		cfg.Servers[name] = server
	}
	for i := range cfg.Apps.Apps {
		cfg.Apps.Apps[i].Secret = expandEnv(cfg.Apps.Apps[i].Secret)
	}
}

func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		name := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		if resolved, ok := os.LookupEnv(name); ok {
			return resolved
		}
	}
	return value
}

// Server returns the named server profile, or the default profile if name
// is empty.
func (c *Config) Server(name string) (ServerConfig, bool) {
	if name == "" {
		name = c.Default
	}
	s, ok := c.Servers[name]
	return s, ok
}

// Applications converts every configured app entry into a broker.Application.
func (c *Config) Applications() []*broker.Application {
	out := make([]*broker.Application, 0, len(c.Apps.Apps))
	for _, a := range c.Apps.Apps {
		out = append(out, &broker.Application{
			AppID:               a.AppID,
			Key:                 a.Key,
			Secret:              a.Secret,
			AllowedOrigins:      a.AllowedOrigins,
			PingIntervalSec:     a.PingInterval,
			ActivityTimeoutSec:  a.ActivityTimeout,
			MaxMessageSizeBytes: a.MaxMessageSize,
			MaxConnections:      a.MaxConnections,
		})
	}
	return out
}

// BusConfig converts a server profile's scaling block into a bus.ServerConfig,
// and reports whether scaling (and therefore the bus) is enabled at all.
func (s ServerConfig) BusConfig() (bus.ServerConfig, bool) {
	if !s.Scaling.Enabled {
		return bus.ServerConfig{}, false
	}
	return bus.ServerConfig{
		URL:        s.Scaling.Server.URL,
		Host:       s.Scaling.Server.Host,
		Port:       s.Scaling.Server.Port,
		Username:   s.Scaling.Server.Username,
		Password:   s.Scaling.Server.Password,
		DB:         s.Scaling.Server.DB,
		TLS:        s.Scaling.Server.TLS,
		TimeoutSec: s.Scaling.Server.TimeoutSec,
	}, true
}
