package app

import (
	"errors"
	"strings"

	"github.com/zeh237/taskly/internal/cache"
)

// RedisClientConfig returns the connection settings shared by the cache store, the
// session cache and the email queue.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	r := c.Redis
	return cache.RedisConfig{
		Address:  strings.TrimSpace(r.Address),
		Username: strings.TrimSpace(r.Username),
		Password: r.Password,
		DB:       r.DB,
		TLS:      r.TLS,
		Timeout:  r.Timeout,
	}
}

// Backend names the store behind sessions and rate windows.
func (c CacheConfig) Backend() string {
	if c.Redis.Enabled {
		return "redis"
	}
	return "database"
}

func (c CacheConfig) validate() error {
	if !c.Redis.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Redis.Address) == "" {
		return errors.New("config: cache.redis.address is required when redis is enabled")
	}
	if c.Redis.DB < 0 || c.Redis.Timeout < 0 {
		return errors.New("config: cache.redis.db and cache.redis.timeout must not be negative")
	}
	return nil
}
