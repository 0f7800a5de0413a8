package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/turn"
)

type identityCtxKey struct{}

var ctxKeyIdentity = identityCtxKey{}

// identityFromContext retrieves the authenticated caller from the request
// context. The second return value is false for anonymous requests.
func identityFromContext(ctx context.Context) (turn.Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(turn.Identity)
	return id, ok
}

// identityMiddleware authenticates bearer tokens minted by the session
// provider. Token format: base token "userID.email" followed by a hex
// HMAC-SHA256 signature over it, dot-separated:
//
//	Authorization: Bearer <userID>.<email>.<signature>
//
// Invalid or absent tokens leave the request anonymous; handlers decide
// whether identity is required.
func identityMiddleware(secret []byte, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := parseBearerIdentity(r.Header.Get("Authorization"), secret)
			if err != nil {
				logger.Debug("rejecting identity token", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if id != nil {
				r = r.WithContext(context.WithValue(r.Context(), ctxKeyIdentity, *id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseBearerIdentity verifies and decodes an identity token.
// Returns (nil, nil) when no bearer token is present at all.
func parseBearerIdentity(header string, secret []byte) (*turn.Identity, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, nil
	}

	lastDot := strings.LastIndex(token, ".")
	if lastDot < 0 {
		return nil, fmt.Errorf("malformed identity token")
	}
	payload, signature := token[:lastDot], token[lastDot+1:]

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, fmt.Errorf("identity token signature mismatch")
	}

	userPart, email, ok := strings.Cut(payload, ".")
	if !ok {
		return nil, fmt.Errorf("malformed identity payload")
	}
	userID, err := uuid.Parse(userPart)
	if err != nil {
		return nil, fmt.Errorf("invalid user id in identity token: %w", err)
	}

	return &turn.Identity{UserID: userID, Email: email}, nil
}

// SignIdentity mints a bearer token for the given identity. Exposed for the
// session provider and for tests.
func SignIdentity(userID uuid.UUID, email string, secret []byte) string {
	payload := userID.String() + "." + email
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return payload + "." + hex.EncodeToString(mac.Sum(nil))
}
