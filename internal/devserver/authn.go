package devserver

import (
	"errors"
	"net/http"
	"strings"

	"attendance.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth rejects requests without a valid access token with 401, the
// signal clients use to refresh.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error(), nil)
			return
		}
		claims, err := a.issuer.ParseAndValidate(token)
		if err != nil {
			msg := "invalid token"
			if auth.IsExpired(err) {
				msg = "token expired"
			}
			writeError(w, r, http.StatusUnauthorized, msg, nil)
			return
		}
		ctx := auth.ContextWithUser(r.Context(), claims.Subject)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
