package config

import (
	"strings"
	"time"
)

type APIConfig interface {
	GetAPIBaseURL() string
	GetAPIURL() string
	GetAPITimeout() time.Duration
	GetUsersStaleTime() time.Duration
}

type API struct{}

var _ APIConfig = API{}

// GetAPIBaseURL returns the backend origin, e.g. "https://api.example.com".
func (API) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv("API_BASE_URL", "http://localhost:8000"), "/")
}

// GetAPIURL returns the versioned API root every endpoint path is relative to.
func (a API) GetAPIURL() string {
	return a.GetAPIBaseURL() + "/api/v1"
}

func (API) GetAPITimeout() time.Duration {
	return GetDurationEnv("API_TIMEOUT", 30*time.Second)
}

func (API) GetUsersStaleTime() time.Duration {
	return GetDurationEnv("USERS_STALE_TIME", 30*time.Second)
}
