package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPrefix = "test"

type storeFactory func(t *testing.T) sessions.Store

func memoryStore(t *testing.T) sessions.Store {
	t.Helper()
	return sessions.NewMemoryStore()
}

func redisStore(t *testing.T) sessions.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return sessions.NewRedisStore(rdb, testPrefix)
}

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": memoryStore,
		"redis":  redisStore,
	}
}

func testTokens() token.Tokens {
	return token.Tokens{AccessToken: "h.p.s", RefreshToken: "r1", TokenType: "bearer"}
}

func testClaims(exp int64) *token.Claims {
	return &token.Claims{
		Name:      utils.Ptr("Ada Lovelace"),
		Username:  utils.Ptr("ada"),
		Roles:     []string{"admin"},
		ExpiresAt: utils.Ptr(exp),
	}
}

// lookuper reads single raw keys; both backends provide it.
type lookuper interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
}

var (
	_ lookuper = (*sessions.MemoryStore)(nil)
	_ lookuper = (*sessions.RedisStore)(nil)
)

func lookup(t *testing.T, store sessions.Store, key string) (string, bool) {
	t.Helper()
	l, ok := store.(lookuper)
	require.True(t, ok, "%T cannot look up raw keys", store)
	v, found, err := l.Lookup(context.Background(), key)
	require.NoError(t, err)
	return v, found
}

func requireAbsent(t *testing.T, store sessions.Store, keys ...string) {
	t.Helper()
	for _, key := range keys {
		_, ok := lookup(t, store, key)
		require.False(t, ok, "key %q should be absent", key)
	}
}

func TestStore(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty store is unauthenticated", func(t *testing.T) {
				store := newStore(t)
				s, err := store.Load(ctx)
				require.NoError(t, err)
				require.False(t, s.IsAuthenticated())
				require.Nil(t, s.ExpiresAt)
				require.False(t, sessions.IsAuthenticated(ctx, store))
			})

			t.Run("save with claims", func(t *testing.T) {
				store := newStore(t)
				require.NoError(t, store.Save(ctx, testTokens(), testClaims(1700000000)))

				s, err := store.Load(ctx)
				require.NoError(t, err)
				require.True(t, s.IsAuthenticated())
				require.Equal(t, "h.p.s", s.AccessToken)
				require.Equal(t, "r1", s.RefreshToken)
				require.Equal(t, "bearer", s.TokenType)
				require.Equal(t, int64(1700000000), *s.ExpiresAt)
				require.Equal(t, &sessions.UserInfo{Name: "Ada Lovelace", Username: "ada", Roles: []string{"admin"}}, s.User)

				expiry, ok := lookup(t, store, sessions.KeyTokenExpiry)
				require.True(t, ok)
				require.Equal(t, "1700000000", expiry)

				info, ok := lookup(t, store, sessions.KeyUserInfo)
				require.True(t, ok)
				require.JSONEq(t, `{"name":"Ada Lovelace","username":"ada","role":["admin"]}`, info)
			})

			t.Run("save without claims drops stale expiry", func(t *testing.T) {
				store := newStore(t)
				require.NoError(t, store.Save(ctx, testTokens(), testClaims(1700000000)))
				require.NoError(t, store.Save(ctx, token.Tokens{AccessToken: "opaque", RefreshToken: "r2", TokenType: "bearer"}, nil))

				s, err := store.Load(ctx)
				require.NoError(t, err)
				require.Equal(t, "opaque", s.AccessToken)
				require.Equal(t, "r2", s.RefreshToken)
				require.Nil(t, s.ExpiresAt)
				require.Nil(t, s.User)
				requireAbsent(t, store, sessions.KeyTokenExpiry, sessions.KeyUserInfo)
			})

			t.Run("save rejects empty access token", func(t *testing.T) {
				store := newStore(t)
				err := store.Save(ctx, token.Tokens{RefreshToken: "r1"}, testClaims(1700000000))
				require.ErrorIs(t, err, sessions.ErrEmptyAccessToken)
				requireAbsent(t, store, sessions.AllKeys...)
			})

			t.Run("clear removes every key", func(t *testing.T) {
				store := newStore(t)
				require.NoError(t, store.Save(ctx, testTokens(), testClaims(1700000000)))
				require.NoError(t, store.Clear(ctx))

				requireAbsent(t, store, sessions.AllKeys...)
				require.False(t, sessions.IsAuthenticated(ctx, store))
			})

			t.Run("clear on empty store", func(t *testing.T) {
				store := newStore(t)
				require.NoError(t, store.Clear(ctx))
			})
		})
	}
}

func TestRedisStore_Namespacing(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := sessions.NewRedisStore(rdb, testPrefix)
	require.NoError(t, store.Save(ctx, testTokens(), testClaims(1700000000)))

	require.True(t, mr.Exists("test:accessToken"))
	require.True(t, mr.Exists("test:tokenExpiry"))
	require.False(t, mr.Exists("accessToken"))

	// A second store with another prefix sees nothing.
	other := sessions.NewRedisStore(rdb, "other")
	require.False(t, sessions.IsAuthenticated(ctx, other))
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	store := sessions.NewRedisStore(rdb, testPrefix)

	mr.Close()

	_, err := store.Load(ctx)
	require.Error(t, err)
	require.False(t, sessions.IsAuthenticated(ctx, store))
}

func TestSession_Expired(t *testing.T) {
	var nilSession *sessions.Session
	require.False(t, nilSession.IsAuthenticated())

	s := &sessions.Session{AccessToken: "a"}
	require.False(t, s.Expired(timeAt(100)))

	s.ExpiresAt = utils.Ptr(int64(100))
	require.False(t, s.Expired(timeAt(99)))
	require.True(t, s.Expired(timeAt(100)))
}

func timeAt(epoch int64) time.Time {
	return time.Unix(epoch, 0)
}
