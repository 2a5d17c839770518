package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultGateUser  = "nanostyle"
	DefaultGateRealm = "NanoStyle Internal"
)

// GateConfig holds the shared-secret access gate credentials.
type GateConfig struct {
	User     string
	Password string
	Realm    string
}

// Enabled reports whether a password is configured.
func (c GateConfig) Enabled() bool {
	return strings.TrimSpace(c.Password) != ""
}

// AccessGate requires HTTP basic auth on every request when cfg is enabled.
// Paths in open bypass the gate.
func AccessGate(cfg GateConfig, open ...string) func(http.Handler) http.Handler {
	if !cfg.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = DefaultGateUser
	}
	realm := strings.TrimSpace(cfg.Realm)
	if realm == "" {
		realm = DefaultGateRealm
	}
	password := strings.TrimSpace(cfg.Password)
	challenge := fmt.Sprintf("Basic realm=%q", realm)

	bypass := make(map[string]struct{}, len(open))
	for _, p := range open {
		bypass[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bypass[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			u, p, ok := r.BasicAuth()
			if ok && secureEquals(u, user) && secureEquals(p, password) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", challenge)
			http.Error(w, "Access denied", http.StatusUnauthorized)
		})
	}
}

func secureEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
