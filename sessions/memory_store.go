package sessions

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/token"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the session for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, tokens token.Tokens, claims *token.Claims) error {
	writes, err := plan(tokens, claims)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		if w.Delete {
			delete(s.values, w.Key)
			continue
		}
		s.values[w.Key] = w.Value
	}
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make(map[string]string, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return fromValues(values), nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range AllKeys {
		delete(s.values, key)
	}
	return nil
}

// Lookup returns the raw stored value of one key.
func (s *MemoryStore) Lookup(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}
