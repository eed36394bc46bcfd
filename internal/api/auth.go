package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/tOgg1/courier/internal/models"
	"github.com/tOgg1/courier/internal/session"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenValidator turns a bearer token into an identity.
type TokenValidator interface {
	Validate(token string) (models.Identity, error)
}

var _ TokenValidator = (*session.TokenIssuer)(nil)

// authenticate requires a valid bearer token. Browsers cannot set headers
// on a websocket upgrade, so a token query parameter is accepted too.
func authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if header := r.Header.Get("Authorization"); header != "" {
				scheme, value, ok := strings.Cut(header, " ")
				if ok && strings.EqualFold(scheme, "Bearer") {
					token = strings.TrimSpace(value)
				}
			}
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			identity, err := validator.Validate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFrom returns the identity authenticate stored.
func identityFrom(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(models.Identity)
	return identity, ok
}
