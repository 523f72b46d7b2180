package bus

import "strings"

// ServerConfig is the subset of a server profile's scaling.server block
// needed to pick and configure a backend.
type ServerConfig struct {
	URL        string
	Host       string
	Port       int
	Username   string
	Password   string
	DB         int
	TLS        bool
	TimeoutSec int
}

// New selects a Bus implementation by URL scheme: "nats://" (or "tls://")
// picks NATS, anything else (including a bare host:port or no scheme)
// assumes Redis.
func New(cfg ServerConfig) Bus {
	if strings.HasPrefix(cfg.URL, "nats://") || strings.HasPrefix(cfg.URL, "tls://") {
		return NewNATSBus(NATSConfig{
			URL:        cfg.URL,
			Username:   cfg.Username,
			Password:   cfg.Password,
			TimeoutSec: cfg.TimeoutSec,
		})
	}
	return NewRedisBus(RedisConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.Username,
		Password:   cfg.Password,
		DB:         cfg.DB,
		TLS:        cfg.TLS,
		TimeoutSec: cfg.TimeoutSec,
	})
}
