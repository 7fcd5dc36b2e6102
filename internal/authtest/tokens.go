package authtest

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var errMissingBearer = errors.New("missing bearer token")

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func newID() string {
	return uuid.NewString()
}

// issue mints an access token for u and registers a fresh refresh token.
func (b *Backend) issue(u *User) (*tokenPair, error) {
	now := b.now()

	b.mu.Lock()
	gen := b.generation
	refreshToken := "rt-" + newID()
	b.refreshTokens[refreshToken] = u.Email
	b.mu.Unlock()

	claims := jwt.MapClaims{
		"sub":      strconv.Itoa(u.ID),
		"name":     u.Name,
		"username": u.Username,
		"email":    u.Email,
		"roles":    u.Roles,
		"iat":      now.Unix(),
		"exp":      now.Add(b.accessTTL).Unix(),
		"jti":      newID(),
		"gen":      gen,
	}
	signed, err := b.signer.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "access token")
	}

	return &tokenPair{
		AccessToken:  signed,
		TokenType:    "bearer",
		RefreshToken: refreshToken,
		ExpiresIn:    int64(b.accessTTL.Seconds()),
	}, nil
}

// verifyAccessToken checks the signature and generation of raw and returns
// its subject. Expiry is checked against the backend clock.
func (b *Backend) verifyAccessToken(raw string) (string, error) {
	parsed, err := jwt.Parse(raw, b.signer.VerificationKey, jwt.WithTimeFunc(b.now))
	if err != nil {
		return "", errors.Wrap(err, "invalid access token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	gen, _ := claims["gen"].(float64)

	b.mu.Lock()
	current := b.generation
	b.mu.Unlock()
	if int(gen) < current {
		return "", fmt.Errorf("token generation %d revoked", int(gen))
	}
	return claims.GetSubject()
}
