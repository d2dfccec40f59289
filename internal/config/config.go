// Package config wraps Viper with a nil-safe accessor type and the
// typed agent settings loaded at startup.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is a nil-safe wrapper around a Viper instance. All accessors
// return zero values when the underlying Viper is nil, so callers never
// need to guard against missing configuration sections.
type Config struct {
	v *viper.Viper
}

// New wraps the given Viper instance. A nil Viper is allowed.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// GetString returns the string value for the key.
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// GetInt returns the int value for the key.
func (c *Config) GetInt(key string) int {
	if c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

// GetBool returns the bool value for the key.
func (c *Config) GetBool(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

// GetDuration returns the duration value for the key.
func (c *Config) GetDuration(key string) time.Duration {
	if c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

// GetStringSlice returns the string-slice value for the key.
func (c *Config) GetStringSlice(key string) []string {
	if c.v == nil {
		return nil
	}
	return c.v.GetStringSlice(key)
}

// IsSet reports whether the key has a value.
func (c *Config) IsSet(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns the sub-tree under the key. Always returns a usable
// Config, never nil.
func (c *Config) Sub(key string) *Config {
	if c.v == nil {
		return New(nil)
	}
	return New(c.v.Sub(key))
}

// Unmarshal decodes the configuration into the target struct using
// mapstructure tags.
func (c *Config) Unmarshal(target interface{}) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}
