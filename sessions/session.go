package sessions

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/jrsteele09/go-auth-client/token"
)

// Keys the credential store owns. Clear must remove every one of them.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyTokenType    = "tokenType"
	KeyTokenExpiry  = "tokenExpiry" // epoch seconds, decimal string
	KeyUserInfo     = "userInfo"    // JSON encoded UserInfo
)

// AllKeys lists the keys in write order; the access token is always written last.
var AllKeys = []string{KeyRefreshToken, KeyTokenType, KeyUserInfo, KeyTokenExpiry, KeyAccessToken}

// UserInfo is derived from the access token claims for display. It is never
// used for authorization.
type UserInfo struct {
	Name     string   `json:"name,omitempty"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"role,omitempty"`
}

// Session is the single authenticated-or-not state of the process.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *int64    // Set only when the stored access token's claims decoded
	User         *UserInfo // Derived, not authoritative
}

// IsAuthenticated reports whether an access token is stored. Expiry is not
// considered; see Expired.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.AccessToken != ""
}

// Expired reports whether the stored expiry has passed. A session without a
// known expiry never counts as expired.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return now.Unix() >= *s.ExpiresAt
}

// write is one step of a save: set Key to Value, or delete Key when Delete is true.
type write struct {
	Key    string
	Value  string
	Delete bool
}

// plan turns a token pair and its (possibly absent) claims into the ordered
// writes of one save. Expiry and user info are deleted rather than left behind
// when the new token's claims don't provide them.
func plan(tokens token.Tokens, claims *token.Claims) ([]write, error) {
	if tokens.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	writes := []write{
		{Key: KeyRefreshToken, Value: tokens.RefreshToken, Delete: tokens.RefreshToken == ""},
		{Key: KeyTokenType, Value: tokens.TokenType, Delete: tokens.TokenType == ""},
	}

	info := userInfoFromClaims(claims)
	if info == nil {
		writes = append(writes, write{Key: KeyUserInfo, Delete: true})
	} else {
		encoded, err := json.Marshal(info)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write{Key: KeyUserInfo, Value: string(encoded)})
	}

	if claims == nil || claims.ExpiresAt == nil {
		writes = append(writes, write{Key: KeyTokenExpiry, Delete: true})
	} else {
		writes = append(writes, write{Key: KeyTokenExpiry, Value: strconv.FormatInt(*claims.ExpiresAt, 10)})
	}

	return append(writes, write{Key: KeyAccessToken, Value: tokens.AccessToken}), nil
}

func userInfoFromClaims(claims *token.Claims) *UserInfo {
	if claims == nil || (claims.Name == nil && claims.Username == nil) {
		return nil
	}
	info := &UserInfo{Roles: claims.Roles}
	if claims.Name != nil {
		info.Name = *claims.Name
	}
	if claims.Username != nil {
		info.Username = *claims.Username
	}
	return info
}

// fromValues rebuilds a Session from stored key/values. Unreadable derived keys
// are treated as absent.
func fromValues(values map[string]string) *Session {
	s := &Session{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		TokenType:    values[KeyTokenType],
	}
	if raw, ok := values[KeyTokenExpiry]; ok {
		if exp, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.ExpiresAt = &exp
		}
	}
	if raw, ok := values[KeyUserInfo]; ok {
		var info UserInfo
		if err := json.Unmarshal([]byte(raw), &info); err == nil {
			s.User = &info
		}
	}
	return s
}
