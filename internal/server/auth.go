package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/finqa-go/internal/logging"
)

// authMiddleware enforces "Authorization: Bearer <apiKey>" on next. An
// empty apiKey disables the check; New warns about that once at startup.
//
// Failures get 401 with a WWW-Authenticate challenge and a JSON error body.
// The presented token is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token != "" && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		challenge := `Bearer realm="finqa"`
		msg := "authorization required"
		if token != "" {
			challenge += ` error="invalid_token"`
			msg = "invalid token"
		}
		logging.FromContext(r.Context()).Warn("auth: rejected request",
			slog.String("path", r.URL.Path),
			slog.Bool("token_present", token != ""),
		)
		w.Header().Set("WWW-Authenticate", challenge)
		writeError(w, http.StatusUnauthorized, msg)
	})
}

// bearerToken returns the token of a Bearer Authorization header, or ""
// when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
