package token

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/internal/utils"
)

// Claims is the unverified view of an access token's payload. Every field is
// optional. Nothing here is checked against a signature, so it is only good for
// display and for deciding when to refresh.
type Claims struct {
	Subject   *string
	Name      *string
	Username  *string
	Email     *string
	Roles     []string
	ExpiresAt *int64 // Expiry, epoch seconds
	IssuedAt  *int64 // Issued at, epoch seconds
	Raw       jwtlib.MapClaims
}

var (
	segmentParser     = jwtlib.NewParser(jwtlib.WithPaddingAllowed())
	alphabetToURLSafe = strings.NewReplacer("+", "-", "/", "_")
)

// Decode parses the payload segment of a dot separated bearer token. It returns
// false rather than an error for anything it cannot read: too few segments, bad
// base64, bytes that are not UTF-8 text, or JSON that is not an object.
func Decode(raw string) (*Claims, bool) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return nil, false
	}

	payload, err := segmentParser.DecodeSegment(alphabetToURLSafe.Replace(parts[1]))
	if err != nil || !utf8.Valid(payload) {
		return nil, false
	}

	var mapClaims jwtlib.MapClaims
	if err := json.Unmarshal(payload, &mapClaims); err != nil || mapClaims == nil {
		return nil, false
	}

	return fromMapClaims(mapClaims), true
}

func fromMapClaims(mc jwtlib.MapClaims) *Claims {
	str := func(key string) string {
		s, _ := mc[key].(string)
		return s
	}

	c := &Claims{
		Subject: utils.PtrIfSet(str("sub")),
		Name:    utils.PtrIfSet(str("name")),
		Email:   utils.PtrIfSet(str("email")),
		Raw:     mc,
	}
	c.Username = utils.PtrIfSet(utils.FirstNonEmpty(str("username"), str("preferred_username"), str("email")))

	switch roles := mc["roles"].(type) {
	case []any:
		c.Roles = utils.ToStringSlice(roles)
	case string:
		c.Roles = []string{roles}
	}
	if role := str("role"); role != "" && len(c.Roles) == 0 {
		c.Roles = []string{role}
	}

	// Non-numeric exp/iat are ignored, same as a missing claim.
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = utils.Ptr(exp.Unix())
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = utils.Ptr(iat.Unix())
	}
	return c
}

// Expiry returns the exp claim as a time.
func (c *Claims) Expiry() (time.Time, bool) {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return time.Unix(*c.ExpiresAt, 0), true
}
