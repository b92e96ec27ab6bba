package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedisOptions(t *testing.T) {
	cfg := DefaultRedisConfig()
	for _, opt := range []RedisOption{
		WithRedisAddr("redis.internal", 0),
		WithRedisAuth("secret", 3),
		WithRedisPool(0, 5),
		WithRedisPrefix(""),
	} {
		opt(&cfg)
	}

	assert.Equal(t, "redis.internal:6379", cfg.Addr())
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 5, cfg.MinIdleConns)
	assert.Equal(t, "pricealarm", cfg.Prefix)
}
