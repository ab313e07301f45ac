package web

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthMiddleware returns an http.Handler that enforces Basic Auth. The
// password is verified against a bcrypt hash; the username with a
// constant-time comparison. The health endpoint stays open for probes.
func AuthMiddleware(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			u, p, ok := extractCredentials(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			userMatch := subtle.ConstantTimeCompare([]byte(u), []byte(username)) == 1
			passMatch := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(p)) == nil

			if !userMatch || !passMatch {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractCredentials extracts username and password from the Authorization
// header. Returns ok=false if the header is missing or malformed.
func extractCredentials(r *http.Request) (username, password string, ok bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "", false
	}

	const prefix = "Basic "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", "", false
	}
	encoded := authHeader[len(prefix):]
	if encoded == "" {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// writeUnauthorized sends a 401 response with the WWW-Authenticate header.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="OffTimes"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
