package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog"
)

// DefaultBuffer is how long before the access token expires it gets renewed.
const DefaultBuffer = 300 * time.Second

var (
	ErrRefreshInProgress  = errors.ErrRefreshInProgress
	ErrRefreshUnavailable = errors.ErrRefreshUnavailable
	ErrRefreshRejected    = errors.ErrRefreshRejected
	ErrSessionEnded       = errors.ErrSessionEnded
)

// State of the coordinator.
type State int

const (
	Idle State = iota
	Scheduled
	Refreshing
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Refreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// Trigger names what started a refresh attempt.
type Trigger string

const (
	TriggerTimer        Trigger = "timer"
	TriggerUnauthorized Trigger = "unauthorized"
	TriggerManual       Trigger = "manual"
)

// RefreshFunc exchanges a refresh token for a new token pair. It should wrap
// ErrRefreshRejected when the refresh endpoint answers 401.
type RefreshFunc func(ctx context.Context, refreshToken string) (token.Tokens, error)

// FailureFunc ends the session after a refresh failed for any reason other
// than another refresh being in flight.
type FailureFunc func(ctx context.Context, err error)

type Option func(*Coordinator)

// WithBuffer sets how far ahead of expiry the proactive refresh fires.
func WithBuffer(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.buffer = d
		}
	}
}

func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator owns the session's single renewal slot and single pending timer.
type Coordinator struct {
	store     sessions.Store
	refresh   RefreshFunc
	onFailure FailureFunc
	buffer    time.Duration
	clock     Clock
	logger    zerolog.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	epoch   uint64 // bumped whenever the session is replaced or ended
	timer   Timer
	timerID uint64
	wakeAt  time.Time
	done    chan struct{} // closed when the current flight finishes
}

func New(store sessions.Store, refresh RefreshFunc, onFailure FailureFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresh:   refresh,
		onFailure: onFailure,
		buffer:    DefaultBuffer,
		clock:     RealClock{},
		logger:    logging.Component("refresh"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports Refreshing while an attempt is in flight, Scheduled while a
// timer is armed, and Idle otherwise.
func (c *Coordinator) State() State {
	if c.inFlight.Load() {
		return Refreshing
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		return Scheduled
	}
	return Idle
}

// WakeAt returns when the pending timer fires.
func (c *Coordinator) WakeAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakeAt, c.timer != nil
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the refresh in flight finishes. With
// nothing in flight the channel is already closed.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return closedChan
	}
	return c.done
}

// Establish persists a freshly issued token pair (login, SSO exchange) and
// arms the proactive refresh. Any refresh still in flight for the previous
// session has its result discarded.
func (c *Coordinator) Establish(ctx context.Context, tokens token.Tokens) (*sessions.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	return c.commitLocked(ctx, tokens)
}

// Schedule arms the proactive refresh for an access token expiring at
// expiresAt (epoch seconds), replacing any pending timer.
func (c *Coordinator) Schedule(expiresAt *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleLocked(expiresAt)
}

// Resume re-arms the timer from a session already in the store, e.g. one left
// by a previous run.
func (c *Coordinator) Resume(ctx context.Context) error {
	s, err := c.store.Load(ctx)
	if err != nil {
		return errors.Wrapf(err, "[Coordinator Resume]")
	}
	if !s.IsAuthenticated() {
		return nil
	}
	c.Schedule(s.ExpiresAt)
	return nil
}

// Cancel stops the pending timer and invalidates any refresh in flight so its
// result is never saved. Logout calls it before clearing the store.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.stopTimerLocked()
}

// Refresh renews the session. Only one attempt runs at a time; a concurrent
// call returns ErrRefreshInProgress and changes nothing, and Done then reports
// when the running attempt ends. Every other failure hands the error to the
// failure handler, which ends the session. Cancelling ctx does not abort an
// attempt once it has started.
func (c *Coordinator) Refresh(ctx context.Context, trigger Trigger) (*sessions.Session, error) {
	logger := c.logger.With().Str("trigger", string(trigger)).Logger()

	c.mu.Lock()
	if !c.inFlight.CompareAndSwap(false, true) {
		c.mu.Unlock()
		logger.Debug().Msg("refresh already in progress")
		return nil, ErrRefreshInProgress
	}
	c.done = make(chan struct{})
	epoch := c.epoch
	c.stopTimerLocked()
	c.mu.Unlock()

	defer c.finish()

	// The caller giving up on its request does not make the session invalid.
	ctx = context.WithoutCancel(ctx)

	s, err := c.refreshOnce(ctx, epoch)
	switch {
	case err == nil:
		logger.Info().Msg("session refreshed")
		return s, nil
	case errors.Is(err, ErrSessionEnded):
		logger.Info().Msg("session ended while refreshing, result discarded")
		return nil, err
	default:
		logger.Error().Err(err).Msg("refresh failed, ending session")
		if c.onFailure != nil {
			c.onFailure(ctx, err)
		}
		return nil, err
	}
}

func (c *Coordinator) refreshOnce(ctx context.Context, epoch uint64) (*sessions.Session, error) {
	current, err := c.store.Load(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "load session")
	}
	if current.RefreshToken == "" {
		return nil, ErrRefreshUnavailable
	}

	tokens, err := c.refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil, ErrSessionEnded
	}
	return c.commitLocked(ctx, tokens)
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight.Store(false)
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}

func (c *Coordinator) commitLocked(ctx context.Context, tokens token.Tokens) (*sessions.Session, error) {
	c.stopTimerLocked()

	claims, ok := token.Decode(tokens.AccessToken)
	if !ok {
		c.logger.Warn().Msg("access token claims could not be decoded, proactive refresh disabled")
		claims = nil
	}

	if err := c.store.Save(ctx, tokens, claims); err != nil {
		return nil, errors.Wrapf(err, "save session")
	}

	var expiresAt *int64
	if claims != nil {
		expiresAt = claims.ExpiresAt
	}
	c.scheduleLocked(expiresAt)

	return c.store.Load(ctx)
}

func (c *Coordinator) scheduleLocked(expiresAt *int64) {
	c.stopTimerLocked()

	if expiresAt == nil {
		c.logger.Debug().Msg("no expiry claim, proactive refresh skipped")
		return
	}

	now := c.clock.Now()
	wakeAt := time.Unix(*expiresAt, 0).Add(-c.buffer)
	if !wakeAt.After(now) {
		c.logger.Info().Time("wake_at", wakeAt).Msg("token already inside refresh buffer, proactive refresh skipped")
		return
	}

	c.timerID++
	id := c.timerID
	c.wakeAt = wakeAt
	c.timer = c.clock.AfterFunc(wakeAt.Sub(now), func() { c.fire(id) })
	c.logger.Debug().Time("wake_at", wakeAt).Msg("proactive refresh scheduled")
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.wakeAt = time.Time{}
}

func (c *Coordinator) fire(id uint64) {
	c.mu.Lock()
	if c.timer == nil || c.timerID != id {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.wakeAt = time.Time{}
	c.mu.Unlock()

	// Failures are logged and handed to onFailure inside Refresh.
	_, _ = c.Refresh(context.Background(), TriggerTimer)
}
