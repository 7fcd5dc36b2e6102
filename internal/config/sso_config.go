package config

import (
	"fmt"
	"time"
)

type SSOConfig interface {
	GetSSOClientID() string
	GetSSOTenantID() string
	GetSSOAuthority() string
	GetSSORedirectAddr() string
	GetSSOScopes() []string
	GetSSOLoginTimeout() time.Duration
}

type SSO struct{}

var _ SSOConfig = SSO{}

func (SSO) GetSSOClientID() string {
	return GetEnv("AZURE_CLIENT_ID", "")
}

// GetSSOTenantID has no default: the multi-tenant endpoints ("common",
// "organizations") publish a templated issuer that ID tokens never match.
func (SSO) GetSSOTenantID() string {
	return GetEnv("AZURE_TENANT_ID", "")
}

// GetSSOAuthority returns the OIDC issuer: SSO_AUTHORITY when set, else the
// Microsoft identity platform v2 endpoint of the tenant. Empty when neither
// is configured.
func (s SSO) GetSSOAuthority() string {
	if authority := GetEnv("SSO_AUTHORITY", ""); authority != "" {
		return authority
	}
	tenant := s.GetSSOTenantID()
	if tenant == "" {
		return ""
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenant)
}

// GetSSORedirectAddr is the loopback address the login callback listens on.
func (SSO) GetSSORedirectAddr() string {
	return GetEnv("SSO_REDIRECT_ADDR", "127.0.0.1:0")
}

func (SSO) GetSSOScopes() []string {
	return []string{"openid", "profile", "email", "User.Read"}
}

func (SSO) GetSSOLoginTimeout() time.Duration {
	return GetDurationEnv("SSO_LOGIN_TIMEOUT", 2*time.Minute)
}
