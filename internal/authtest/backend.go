// Package authtest runs in-process fakes of the API backend and of an OpenID
// Connect identity provider.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/token"
	"golang.org/x/crypto/bcrypt"
)

const (
	RouteLogin    = "/api/v1/auth/token"
	RouteSSO      = "/api/v1/auth/azure/sso-exchange/token"
	RouteRefresh  = "/api/v1/refresh"
	RouteUsers    = "/api/v1/users"
	DefaultSecret = "authtest-signing-secret"
)

// User is an account known to the fake backend, served by /users in the
// backend's user list shape.
type User struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Address  Address  `json:"address"`
	Phone    string   `json:"phone"`
	Website  string   `json:"website"`
	Company  Company  `json:"company"`
	Roles    []string `json:"roles,omitempty"`

	Active       bool `json:"-"`
	passwordHash string
}

type Address struct {
	Street  string `json:"street"`
	Suite   string `json:"suite"`
	City    string `json:"city"`
	Zipcode string `json:"zipcode"`
	Geo     struct {
		Lat string `json:"lat"`
		Lng string `json:"lng"`
	} `json:"geo"`
}

type Company struct {
	Name        string `json:"name"`
	CatchPhrase string `json:"catchPhrase"`
	BS          string `json:"bs"`
}

// SSORequest is the body the backend received on the SSO exchange.
type SSORequest struct {
	IDToken string `json:"id_token"`
	Contact struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"contact"`
}

type Option func(*Backend)

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(b *Backend) { b.accessTTL = d }
}

// WithNow sets the clock used for token timestamps.
func WithNow(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// Backend is a fake of the API server's auth and users endpoints.
type Backend struct {
	*httptest.Server

	signer    signer
	accessTTL time.Duration
	now       func() time.Time

	mu            sync.Mutex
	users         map[string]*User // by email
	nextID        int
	refreshTokens map[string]string
	generation    int // tokens minted before this generation are rejected
	refreshStatus int
	refreshGate   chan struct{}
	usersStatus   int
	ssoReject     string
	lastSSO       *SSORequest

	LoginCalls   atomic.Int32
	SSOCalls     atomic.Int32
	RefreshCalls atomic.Int32
	UsersCalls   atomic.Int32
}

// NewBackend starts a Backend that is closed when the test ends.
func NewBackend(t testing.TB, opts ...Option) *Backend {
	t.Helper()
	b := &Backend{
		signer:        newHMACSigner(DefaultSecret),
		accessTTL:     time.Hour,
		now:           time.Now,
		users:         make(map[string]*User),
		refreshTokens: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RouteLogin, b.handleLogin)
	mux.HandleFunc("POST "+RouteSSO, b.handleSSO)
	mux.HandleFunc("POST "+RouteRefresh, b.handleRefresh)
	mux.HandleFunc("GET "+RouteUsers, b.handleUsers)
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// AddUser registers an active account with a bcrypt hashed password.
func (b *Backend) AddUser(t testing.TB, email, password, name string, roles ...string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &User{
		Email:        email,
		Username:     email,
		Name:         name,
		Phone:        "1-770-736-8031",
		Website:      "example.com",
		Company:      Company{Name: "Example Ltd", CatchPhrase: "Multi-layered client-server neural-net", BS: "harness real-time e-markets"},
		Roles:        roles,
		Active:       true,
		passwordHash: string(hash),
	}
	u.Address.City = "Gwenborough"
	b.mu.Lock()
	b.addLocked(u)
	b.mu.Unlock()
	return u
}

func (b *Backend) addLocked(u *User) {
	b.nextID++
	u.ID = b.nextID
	b.users[u.Email] = u
}

// ExpireAccessTokens makes every access token issued so far answer 401.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
}

// SetRefreshStatus forces the refresh endpoint to answer with status. Zero
// restores normal behaviour.
func (b *Backend) SetRefreshStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStatus = status
}

// HoldRefresh blocks refresh requests until the returned function is called.
func (b *Backend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// SetUsersStatus forces the users endpoint to answer with status.
func (b *Backend) SetUsersStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usersStatus = status
}

// RejectSSO makes the SSO exchange answer 401 with message.
func (b *Backend) RejectSSO(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ssoReject = message
}

// LastSSORequest returns the most recent SSO exchange body.
func (b *Backend) LastSSORequest() *SSORequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSSO
}

// RefreshTokenValid reports whether the backend still accepts refreshToken.
func (b *Backend) RefreshTokenValid(refreshToken string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.refreshTokens[refreshToken]
	return ok
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.LoginCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed form body")
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	b.mu.Lock()
	u, ok := b.users[r.PostForm.Get("username")]
	b.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(r.PostForm.Get("password"))) != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	if !u.Active {
		writeDetail(w, http.StatusForbidden, "Account disabled")
		return
	}
	b.writeTokens(w, u)
}

func (b *Backend) handleSSO(w http.ResponseWriter, r *http.Request) {
	b.SSOCalls.Add(1)
	var req SSORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "id_token is required")
		return
	}

	b.mu.Lock()
	b.lastSSO = &req
	reject := b.ssoReject
	u, ok := b.users[req.Contact.Username]
	if !ok && reject == "" {
		u = &User{Email: req.Contact.Username, Username: req.Contact.Username, Name: req.Contact.Name, Active: true}
		b.addLocked(u)
	}
	b.mu.Unlock()

	if reject != "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": reject})
		return
	}
	b.writeTokens(w, u)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.RefreshCalls.Add(1)

	b.mu.Lock()
	gate := b.refreshGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "refresh_token is required")
		return
	}

	b.mu.Lock()
	status := b.refreshStatus
	email, ok := b.refreshTokens[req.RefreshToken]
	if ok && status == 0 {
		delete(b.refreshTokens, req.RefreshToken)
	}
	u := b.users[email]
	b.mu.Unlock()

	switch {
	case status != 0:
		writeDetail(w, status, http.StatusText(status))
	case !ok || u == nil:
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
	default:
		b.writeTokens(w, u)
	}
}

func (b *Backend) handleUsers(w http.ResponseWriter, r *http.Request) {
	b.UsersCalls.Add(1)
	if _, err := b.authorize(r); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	b.mu.Lock()
	status := b.usersStatus
	list := make([]User, 0, len(b.users))
	for _, u := range b.users {
		list = append(list, *u)
	}
	b.mu.Unlock()
	slices.SortFunc(list, func(a, c User) int { return a.ID - c.ID })

	if status != 0 {
		writeDetail(w, status, http.StatusText(status))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (b *Backend) authorize(r *http.Request) (string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", errMissingBearer
	}
	return b.verifyAccessToken(raw)
}

func (b *Backend) writeTokens(w http.ResponseWriter, u *User) {
	pair, err := b.issue(u)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// TokensFor issues a token pair for a registered user without going through
// the login endpoint.
func (b *Backend) TokensFor(t testing.TB, email string) token.Tokens {
	t.Helper()
	b.mu.Lock()
	u, ok := b.users[email]
	b.mu.Unlock()
	if !ok {
		t.Fatalf("unknown user %q", email)
	}
	pair, err := b.issue(u)
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}
	return token.Tokens{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, TokenType: pair.TokenType}
}
