package config

import "time"

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type SessionConfig interface {
	GetSessionStore() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetSessionKeyPrefix() string
	GetRefreshBuffer() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetSessionStore() string {
	switch store := GetEnv("SESSION_STORE", StoreMemory); store {
	case StoreRedis:
		return store
	default:
		return StoreMemory
	}
}

func (Session) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Session) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Session) GetRedisDB() int {
	return GetIntEnv("REDIS_DB", 0)
}

func (Session) GetSessionKeyPrefix() string {
	return GetEnv("SESSION_KEY_PREFIX", "authclient")
}

// GetRefreshBuffer is how long before expiry the access token is renewed.
func (Session) GetRefreshBuffer() time.Duration {
	return GetDurationEnv("REFRESH_BUFFER", 300*time.Second)
}
