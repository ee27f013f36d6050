package session

import "time"

// Config holds session configuration from YAML.
type Config struct {
	// Store specifies the storage backend type: "memory" or "redis".
	// Default: "memory" (sessions live for the process lifetime).
	Store string `yaml:"store"`

	// TTL expires idle sessions. Zero keeps them until deleted.
	TTL time.Duration `yaml:"ttl"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis,omitempty"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Store: "memory",
		TTL:   24 * time.Hour,
	}
}
