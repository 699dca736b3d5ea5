// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// BearerToken returns middleware that accepts a request carrying any of
// tokens as its bearer credential, so a new token can be rolled out before
// the old one is retired. Empty tokens are ignored; with none left every
// request is rejected.
//
// Credentials are compared as SHA-256 digests in constant time, and every
// accepted token is checked on each request.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	var digests [][sha256.Size]byte
	for _, t := range tokens {
		if t != "" {
			digests = append(digests, sha256.Sum256([]byte(t)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || cred == "" {
				reject(w, "missing or malformed authorization header", "")
				return
			}

			got := sha256.Sum256([]byte(cred))
			match := 0
			for i := range digests {
				match |= subtle.ConstantTimeCompare(got[:], digests[i][:])
			}
			if match != 1 {
				reject(w, "invalid token", "invalid_token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, msg, code string) {
	challenge := `Bearer realm="pams"`
	if code != "" {
		challenge += `, error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}
