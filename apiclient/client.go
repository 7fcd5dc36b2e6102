package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/notify"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/rs/zerolog"
)

// Backend routes, relative to the API root.
const (
	RouteLogin       = "/auth/token"
	RouteSSOExchange = "/auth/azure/sso-exchange/token"
	RouteRefresh     = "/refresh"
	RouteUsers       = "/users"
)

const maxErrorBody = 64 << 10

// Refresher renews the session when the backend answers 401.
type Refresher interface {
	Refresh(ctx context.Context, trigger refresh.Trigger) (*sessions.Session, error)
	Done() <-chan struct{}
}

var _ Refresher = (*refresh.Coordinator)(nil)

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSkipPaths adds routes whose 401s are returned as-is: no refresh and no
// notice. The auth routes are always skipped.
func WithSkipPaths(paths ...string) Option {
	return func(c *Client) {
		for _, p := range paths {
			c.skip[p] = true
		}
	}
}

// Client talks to the versioned API root, attaching the stored bearer token
// and renewing the session on 401.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      sessions.Store
	notifier   notify.Notifier
	logger     zerolog.Logger
	skip       map[string]bool

	mu        sync.RWMutex
	refresher Refresher
	onExpired func(ctx context.Context)
}

func New(baseURL string, store sessions.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		notifier:   notify.Default(),
		logger:     logging.Component("apiclient"),
		skip: map[string]bool{
			RouteLogin:       true,
			RouteSSOExchange: true,
			RouteRefresh:     true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach sets the refresher used on 401 and the handler run when the session
// cannot be recovered without the refresher having ended it itself.
func (c *Client) Attach(r Refresher, onExpired func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = r
	c.onExpired = onExpired
}

func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// URL resolves a route against the API root.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do sends a JSON request and decodes a JSON answer into out (when non-nil).
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("[apiclient Do] encode body: %w", err)
		}
	}

	requestID := uuid.NewString()
	logger := c.logger.With().Str("method", method).Str("path", path).Str("request_id", requestID).Logger()

	resp, err := c.send(ctx, method, path, payload, requestID)
	if err != nil {
		return c.networkError(logger, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if resp, err = c.unauthorized(ctx, logger, method, path, payload, requestID, resp); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.statusError(logger, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("[apiclient Do] decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, requestID string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	s, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s.IsAuthenticated() {
		req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	}
	return c.httpClient.Do(req)
}

// unauthorized handles a 401: refresh (or wait for the refresh in flight) and
// retry once. The returned response is the retry's. Only a request that ran
// the refresh itself ends the session through onExpired.
func (c *Client) unauthorized(ctx context.Context, logger zerolog.Logger, method, path string, payload []byte, requestID string, resp *http.Response) (*http.Response, error) {
	message := readMessage(resp)

	if path == RouteRefresh {
		return nil, &APIError{Status: http.StatusUnauthorized, Message: message, Err: ErrRefreshRejected}
	}
	if c.skip[path] {
		return nil, &APIError{Status: http.StatusUnauthorized, Message: message}
	}

	c.mu.RLock()
	refresher, onExpired := c.refresher, c.onExpired
	c.mu.RUnlock()
	if refresher == nil {
		return nil, c.sessionExpired(ctx, logger, onExpired, &APIError{Status: http.StatusUnauthorized, Message: message})
	}

	_, err := refresher.Refresh(ctx, refresh.TriggerUnauthorized)
	switch {
	case err == nil:
		logger.Debug().Msg("session refreshed, retrying request")
	case errors.Is(err, refresh.ErrRefreshInProgress):
		// The running attempt owns the session: it either saves new tokens or
		// ends the session itself, so this request only waits for it.
		logger.Debug().Msg("refresh in progress, waiting for it to finish")
		select {
		case <-refresher.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return c.retryAfterWait(ctx, logger, method, path, payload, requestID)
	default:
		// The refresher ended the session already.
		return nil, c.sessionExpired(ctx, logger, nil, err)
	}

	retry, err := c.send(ctx, method, path, payload, requestID)
	if err != nil {
		return nil, c.networkError(logger, path, err)
	}
	if retry.StatusCode == http.StatusUnauthorized {
		message := readMessage(retry)
		return nil, c.sessionExpired(ctx, logger, onExpired, &APIError{Status: http.StatusUnauthorized, Message: message})
	}
	return retry, nil
}

// retryAfterWait retries once after someone else's refresh finished. A second
// 401 never logs out here: the refresh that ran has already ended the session
// if it failed.
func (c *Client) retryAfterWait(ctx context.Context, logger zerolog.Logger, method, path string, payload []byte, requestID string) (*http.Response, error) {
	retry, err := c.send(ctx, method, path, payload, requestID)
	if err != nil {
		return nil, c.networkError(logger, path, err)
	}
	if retry.StatusCode != http.StatusUnauthorized {
		return retry, nil
	}

	message := readMessage(retry)
	unauthorized := &APIError{Status: http.StatusUnauthorized, Message: message}
	if !sessions.IsAuthenticated(ctx, c.store) {
		return nil, c.sessionExpired(ctx, logger, nil, unauthorized)
	}
	logger.Warn().Str("detail", message).Msg("still unauthorized after refresh")
	return nil, unauthorized
}

func (c *Client) sessionExpired(ctx context.Context, logger zerolog.Logger, onExpired func(context.Context), cause error) error {
	logger.Warn().Err(cause).Msg("unauthorized and could not renew session")
	c.notifier.Notify(notify.Error("Session Expired", "Please log in again."))
	if onExpired != nil {
		onExpired(ctx)
	}
	return fmt.Errorf("%w: %w", ErrSessionExpired, cause)
}

func (c *Client) statusError(logger zerolog.Logger, path string, resp *http.Response) error {
	message := readMessage(resp)
	logger.Error().Int("status", resp.StatusCode).Str("detail", message).Msg("request failed")
	if !c.skip[path] {
		title, description := statusNotice(resp.StatusCode, message)
		c.notifier.Notify(notify.Error(title, description))
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}

func (c *Client) networkError(logger zerolog.Logger, path string, err error) error {
	logger.Err(err).Msg("request could not be sent")
	if !c.skip[path] && !errors.Is(err, context.Canceled) {
		c.notifier.Notify(notify.Error("Network Error", "Could not connect to the server. Please check your connection."))
	}
	return fmt.Errorf("[apiclient] %s: %w", path, err)
}

// readMessage reads and closes the body of a failed response.
func readMessage(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return BackendMessage(body, http.StatusText(resp.StatusCode))
}
