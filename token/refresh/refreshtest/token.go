package refreshtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Token builds an unsigned header.payload.signature token carrying claims.
func Token(claims map[string]any) string {
	payload, err := json.Marshal(claims)
	if err != nil {
		panic(fmt.Sprintf("refreshtest: marshal claims: %v", err))
	}
	return "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

// TokenExpiringAt builds a token whose exp claim is the given epoch second.
func TokenExpiringAt(exp int64, sub string) string {
	return Token(map[string]any{"sub": sub, "name": "Test User", "username": sub, "exp": exp})
}
