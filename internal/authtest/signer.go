package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// signer signs and verifies the tokens the fakes hand out.
type signer interface {
	Sign(claims jwt.MapClaims) (string, error)
	VerificationKey(token *jwt.Token) (any, error)
}

// hmacSigner signs with a shared secret, like the API backend.
type hmacSigner struct {
	secret []byte
}

func newHMACSigner(secret string) *hmacSigner {
	return &hmacSigner{secret: []byte(secret)}
}

func (h *hmacSigner) Sign(claims jwt.MapClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signed, nil
}

func (h *hmacSigner) VerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

// jwk is the public half of an RSA signing key as published on a JWKS endpoint.
type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// rsaSigner signs RS256 tokens carrying its key id, like an identity provider.
type rsaSigner struct {
	keyID string
	key   *rsa.PrivateKey
}

func newRSASigner(keyID string) (*rsaSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate RSA key")
	}
	return &rsaSigner{keyID: keyID, key: key}, nil
}

func (r *rsaSigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = r.keyID
	signed, err := token.SignedString(r.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with RSA key")
	}
	return signed, nil
}

func (r *rsaSigner) VerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &r.key.PublicKey, nil
}

func (r *rsaSigner) JWKS() jwks {
	pub := r.key.PublicKey
	return jwks{Keys: []jwk{{
		Kty: "RSA",
		Use: "sig",
		Kid: r.keyID,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}
