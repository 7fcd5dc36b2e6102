package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/rs/zerolog"
)

// listKey is the cache key of the user list query.
const listKey = "usersList"

var ErrUserNotFound = errors.New("user not found")

// Getter fetches JSON from the API.
type Getter interface {
	GetJSON(ctx context.Context, path string, out any) error
}

var _ Getter = (*apiclient.Client)(nil)

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service reads the user list, serving it from cache until it goes stale.
type Service struct {
	api    Getter
	cache  *ttlcache.Cache[string, []User]
	logger zerolog.Logger
}

func NewService(api Getter, staleTime time.Duration, opts ...Option) *Service {
	s := &Service{
		api: api,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []User](staleTime),
			ttlcache.WithDisableTouchOnHit[string, []User](),
		),
		logger: logging.Component("users"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]User, error) {
	if item := s.cache.Get(listKey); item != nil {
		return append([]User(nil), item.Value()...), nil
	}

	var list []User
	if err := s.api.GetJSON(ctx, apiclient.RouteUsers, &list); err != nil {
		return nil, fmt.Errorf("[users List] %w", err)
	}
	s.cache.Set(listKey, list, ttlcache.DefaultTTL)
	s.logger.Debug().Int("count", len(list)).Msg("user list fetched")
	return append([]User(nil), list...), nil
}

// GetByID finds a user in the list.
func (s *Service) GetByID(ctx context.Context, id int) (*User, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
}

// Invalidate drops the cached list so the next List refetches.
func (s *Service) Invalidate() {
	s.cache.Delete(listKey)
}
