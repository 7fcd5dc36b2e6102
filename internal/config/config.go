package config

type Config interface {
	EnvConfig
	APIConfig
	SSOConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	API
	SSO
	Session
}

func New() Config {
	return mainConfig{}
}
