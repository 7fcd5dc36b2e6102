package main

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/identity"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app holds the wired client components for one run.
type app struct {
	store  sessions.Store
	redis  *redis.Client
	client *apiclient.Client
	auth   *auth.Service
	users  *users.Service
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	if c.GetSSOClientID() != "" && c.GetSSOAuthority() == "" {
		return nil, fmt.Errorf("AZURE_CLIENT_ID is set but neither AZURE_TENANT_ID nor SSO_AUTHORITY is")
	}

	a := &app{}
	if err := a.openStore(ctx, c); err != nil {
		return nil, err
	}

	a.client = apiclient.New(c.GetAPIURL(), a.store,
		apiclient.WithTimeout(c.GetAPITimeout()),
	)

	opts := []auth.ServiceOption{
		auth.WithNavigator(func(path string) {
			log.Info().Str("path", path).Msg("navigate")
		}),
		auth.WithRefreshOptions(refresh.WithBuffer(c.GetRefreshBuffer())),
	}
	if clientID := c.GetSSOClientID(); clientID != "" {
		provider := identity.NewOIDCProvider(c.GetSSOAuthority(), clientID,
			identity.WithScopes(c.GetSSOScopes()...),
			identity.WithRedirectAddr(c.GetSSORedirectAddr()),
			identity.WithLoginTimeout(c.GetSSOLoginTimeout()),
		)
		opts = append(opts, auth.WithIdentityProvider(provider))
	}
	a.auth = auth.NewService(a.store, a.client, opts...)

	a.users = users.NewService(a.client, c.GetUsersStaleTime())
	a.auth.OnLogout(func(context.Context) { a.users.Invalidate() })
	return a, nil
}

func (a *app) openStore(ctx context.Context, c config.Config) error {
	if c.GetSessionStore() != config.StoreRedis {
		a.store = sessions.NewMemoryStore()
		log.Warn().Msg("using in-memory session store, the session ends with this process")
		return nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     c.GetRedisAddr(),
		Password: c.GetRedisPassword(),
		DB:       c.GetRedisDB(),
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		_ = a.redis.Close()
		return fmt.Errorf("redis ping %s: %w", c.GetRedisAddr(), err)
	}
	a.store = sessions.NewRedisStore(a.redis, c.GetSessionKeyPrefix())
	log.Info().Str("addr", c.GetRedisAddr()).Msg("using redis session store")
	return nil
}

func (a *app) Close() {
	a.auth.Coordinator().Cancel()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Err(err).Msg("closing redis client")
		}
	}
}
