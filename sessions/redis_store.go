package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-auth-client/token"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps the session in Redis under "<prefix>:<key>" so it outlives
// the process. Saves run inside MULTI/EXEC.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + ":" + name
}

func (s *RedisStore) allKeys() []string {
	keys := make([]string, 0, len(AllKeys))
	for _, k := range AllKeys {
		keys = append(keys, s.key(k))
	}
	return keys
}

func (s *RedisStore) Save(ctx context.Context, tokens token.Tokens, claims *token.Claims) error {
	writes, err := plan(tokens, claims)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			if w.Delete {
				pipe.Del(ctx, s.key(w.Key))
				continue
			}
			pipe.Set(ctx, s.key(w.Key), w.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[RedisStore Save] %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*Session, error) {
	results, err := s.client.MGet(ctx, s.allKeys()...).Result()
	if err != nil {
		return nil, fmt.Errorf("[RedisStore Load] %w", err)
	}

	values := make(map[string]string, len(AllKeys))
	for i, result := range results {
		if v, ok := result.(string); ok {
			values[AllKeys[i]] = v
		}
	}
	return fromValues(values), nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.allKeys()...).Err(); err != nil {
		return fmt.Errorf("[RedisStore Clear] %w", err)
	}
	return nil
}

// Lookup returns the raw stored value of one key.
func (s *RedisStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("[RedisStore Lookup] %w", err)
	}
	return v, true, nil
}
