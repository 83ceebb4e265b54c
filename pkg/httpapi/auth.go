// Minimal JWT HS256 bearer-token verification for the Authorization
// header named in §6. None of the pack's repos import a JWT library
// (perkeep's own auth is HTTP Basic over a fixed password, see
// pkg/auth), so this is built directly on crypto/hmac rather than
// adopting an unrelated dependency — see DESIGN.md.
package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"

	"ephemera/pkg/apperr"
)

type jwtClaims struct {
	Sub string `json:"sub"`
}

// verifyBearer extracts and verifies an "Authorization: Bearer <jwt>"
// header against secret, returning the subject claim as the owner id.
// An absent header is not an error: requests without one fall back to
// the public owner scope.
func verifyBearer(header string, secret []byte) (ownerID string, err error) {
	if header == "" {
		return "", nil
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", apperr.New(apperr.KindUnauthorized, "malformed Authorization header")
	}
	token := strings.TrimPrefix(header, prefix)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", apperr.New(apperr.KindUnauthorized, "malformed JWT")
	}
	signingInput := parts[0] + "." + parts[1]
	sig, decErr := base64.RawURLEncoding.DecodeString(parts[2])
	if decErr != nil {
		return "", apperr.New(apperr.KindUnauthorized, "malformed JWT signature")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingInput))
	want := mac.Sum(nil)
	if subtle.ConstantTimeCompare(sig, want) != 1 {
		return "", apperr.New(apperr.KindUnauthorized, "invalid JWT signature")
	}
	payload, decErr := base64.RawURLEncoding.DecodeString(parts[1])
	if decErr != nil {
		return "", apperr.New(apperr.KindUnauthorized, "malformed JWT payload")
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", apperr.New(apperr.KindUnauthorized, "malformed JWT claims")
	}
	return claims.Sub, nil
}
