// Package identity provides request ids and the signed session cookie that
// binds a browser to its refinement session.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	SessionCookieName   = "nanostyle.sid"
	RequestIDHeader     = "x-request-id"
	sessionCookieMaxAge = 12 * time.Hour
	requestIDPrefix     = "req_"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	sessionIDKey
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,128}$`)

// RequestIDFromContext returns the request id, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// SessionIDFromContext returns the session id proven by the signed cookie,
// or "" when the request carried no valid cookie.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID attaches an authenticated session id to ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// NewRequestID returns a fresh, sortable request id.
func NewRequestID() string {
	return requestIDPrefix + strings.ToLower(ulid.Make().String())
}

func requestIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if requestIDPattern.MatchString(id) {
		return id
	}
	return NewRequestID()
}

// Signer signs and verifies session cookie values of the form
// "<sessionId>.<hex hmac-sha256>".
type Signer struct {
	secret []byte
	secure bool
}

// NewSigner returns a signer. An empty secret disables cookies entirely:
// Sign returns the bare id and Verify rejects everything.
func NewSigner(secret string, secure bool) *Signer {
	return &Signer{secret: []byte(secret), secure: secure}
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

func (s *Signer) signature(sessionID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the cookie value for sessionID.
func (s *Signer) Sign(sessionID string) string {
	return sessionID + "." + s.signature(sessionID)
}

// Verify extracts the session id from a signed value.
func (s *Signer) Verify(value string) (string, bool) {
	if !s.Enabled() || value == "" {
		return "", false
	}
	sep := strings.LastIndex(value, ".")
	if sep <= 0 || sep == len(value)-1 {
		return "", false
	}
	sessionID, sig := value[:sep], value[sep+1:]
	if !hmac.Equal([]byte(sig), []byte(s.signature(sessionID))) {
		return "", false
	}
	return sessionID, true
}

// SetCookie issues the signed session cookie. No-op without a secret.
func (s *Signer) SetCookie(w http.ResponseWriter, sessionID string) {
	if !s.Enabled() {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.Sign(sessionID),
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
}

// ClearCookie expires the session cookie.
func (s *Signer) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
}

// Middleware assigns a request id (echoed in the x-request-id response
// header) and resolves the signed session cookie into the context.
func Middleware(signer *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := requestIDFromRequest(r)
			w.Header().Set(RequestIDHeader, requestID)
			ctx := WithRequestID(r.Context(), requestID)

			if c, err := r.Cookie(SessionCookieName); err == nil {
				if sessionID, ok := signer.Verify(c.Value); ok {
					ctx = WithSessionID(ctx, sessionID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote IP without port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
