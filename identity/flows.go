package identity

import (
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// flowState is what a pending login needs to finish once the provider calls
// back with its state parameter.
type flowState struct {
	CodeVerifier string
	Nonce        string
	RedirectURL  string
	CreatedAt    time.Time
}

// flowRepo holds pending logins keyed by state. Entries expire with the login
// timeout so an abandoned flow can't be completed later.
type flowRepo struct {
	cache *ttlcache.Cache[string, *flowState]
}

func newFlowRepo(ttl time.Duration) *flowRepo {
	return &flowRepo{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *flowState](ttl),
			ttlcache.WithDisableTouchOnHit[string, *flowState](),
		),
	}
}

func (r *flowRepo) Upsert(state string, fs *flowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if fs == nil {
		return errors.New("flow state cannot be nil")
	}
	r.cache.DeleteExpired()
	copied := *fs
	r.cache.Set(state, &copied, ttlcache.DefaultTTL)
	return nil
}

// Take returns the flow for state and removes it; a state is usable once.
func (r *flowRepo) Take(state string) (*flowState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}
	item, ok := r.cache.GetAndDelete(state)
	if !ok || item == nil {
		return nil, errors.New("state not found")
	}
	copied := *item.Value()
	return &copied, nil
}

func (r *flowRepo) Delete(state string) {
	r.cache.Delete(state)
}
