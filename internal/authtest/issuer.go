package authtest

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const IssuerClientID = "authtest-client"

// Decision is how the fake authorize endpoint answers.
type Decision int

const (
	Approve Decision = iota
	Deny             // redirects back with error=access_denied
	Abandon          // never redirects, as if the browser window was closed
)

type grant struct {
	nonce     string
	challenge string
	redirect  string
}

// Issuer is a fake OpenID Connect provider signing RS256 ID tokens.
type Issuer struct {
	*httptest.Server

	signer *rsaSigner

	mu       sync.Mutex
	decision Decision
	name     string
	username string
	grants   map[string]grant

	EndSessionCalls atomic.Int32
}

// NewIssuer starts an Issuer that signs in as name/username.
func NewIssuer(t testing.TB, name, username string) *Issuer {
	t.Helper()
	rs, err := newRSASigner(newID())
	if err != nil {
		t.Fatalf("issuer signer: %v", err)
	}
	iss := &Issuer{
		signer:   rs,
		name:     name,
		username: username,
		grants:   make(map[string]grant),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", iss.handleDiscovery)
	mux.HandleFunc("GET /authorize", iss.handleAuthorize)
	mux.HandleFunc("POST /token", iss.handleToken)
	mux.HandleFunc("GET /keys", iss.handleKeys)
	mux.HandleFunc("GET /logout", iss.handleLogout)
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Close)
	return iss
}

func (iss *Issuer) SetDecision(d Decision) {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.decision = d
}

// SetAccount changes the identity returned in later ID tokens. Empty values
// leave the claim out.
func (iss *Issuer) SetAccount(name, username string) {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.name = name
	iss.username = username
}

// Browser returns an open-URL function that follows the login redirects the
// way a browser would.
func (iss *Issuer) Browser() func(string) error {
	return func(u string) error {
		go func() {
			resp, err := http.Get(u)
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	}
}

func (iss *Issuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                iss.URL,
		"authorization_endpoint":                iss.URL + "/authorize",
		"token_endpoint":                        iss.URL + "/token",
		"jwks_uri":                              iss.URL + "/keys",
		"end_session_endpoint":                  iss.URL + "/logout",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (iss *Issuer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Host == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	iss.mu.Lock()
	decision := iss.decision
	iss.mu.Unlock()

	params := url.Values{"state": {q.Get("state")}}
	switch decision {
	case Abandon:
		w.WriteHeader(http.StatusNoContent)
		return
	case Deny:
		params.Set("error", "access_denied")
		params.Set("error_description", "user cancelled the login")
	default:
		if q.Get("code_challenge_method") != "S256" {
			http.Error(w, "PKCE S256 required", http.StatusBadRequest)
			return
		}
		code := newID()
		iss.mu.Lock()
		iss.grants[code] = grant{nonce: q.Get("nonce"), challenge: q.Get("code_challenge"), redirect: q.Get("redirect_uri")}
		iss.mu.Unlock()
		params.Set("code", code)
	}
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (iss *Issuer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	code := r.PostForm.Get("code")

	iss.mu.Lock()
	g, ok := iss.grants[code]
	delete(iss.grants, code)
	iss.mu.Unlock()

	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	switch {
	case !ok, r.PostForm.Get("redirect_uri") != g.redirect:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	case base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "code_verifier mismatch"})
		return
	}

	idToken, err := iss.signIDToken(r.PostForm.Get("client_id"), g.nonce)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "graph-" + newID(),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	})
}

func (iss *Issuer) signIDToken(clientID, nonce string) (string, error) {
	iss.mu.Lock()
	name, username := iss.name, iss.username
	iss.mu.Unlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   iss.URL,
		"sub":   newID(),
		"aud":   clientID,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": nonce,
	}
	if name != "" {
		claims["name"] = name
	}
	if username != "" {
		claims["preferred_username"] = username
	}

	signed, err := iss.signer.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "id token")
	}
	return signed, nil
}

func (iss *Issuer) handleKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, iss.signer.JWKS())
}

func (iss *Issuer) handleLogout(w http.ResponseWriter, _ *http.Request) {
	iss.EndSessionCalls.Add(1)
	w.WriteHeader(http.StatusOK)
}
