package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	s := NewSigner("secret", false)

	signed := s.Sign("abc-123")
	if !strings.HasPrefix(signed, "abc-123.") {
		t.Fatalf("unexpected signed value %q", signed)
	}
	if len(signed) != len("abc-123.")+64 {
		t.Errorf("expected hex sha256 signature, got %q", signed)
	}

	id, ok := s.Verify(signed)
	if !ok || id != "abc-123" {
		t.Fatalf("Verify(%q) = %q, %v", signed, id, ok)
	}

	for _, bad := range []string{"", "abc-123", ".sig", "abc-123.", "abc-124" + signed[7:], signed + "0"} {
		if _, ok := s.Verify(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}

	if _, ok := NewSigner("other", false).Verify(signed); ok {
		t.Error("signature from another secret must be rejected")
	}
	if _, ok := NewSigner("", false).Verify(signed); ok {
		t.Error("disabled signer must reject everything")
	}
}

func TestMiddlewareResolvesCookieAndRequestID(t *testing.T) {
	s := NewSigner("secret", false)

	var gotSession, gotRequest string
	h := Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = SessionIDFromContext(r.Context())
		gotRequest = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: s.Sign("sess-1")})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if gotSession != "sess-1" {
		t.Errorf("expected session from cookie, got %q", gotSession)
	}
	if !strings.HasPrefix(gotRequest, "req_") {
		t.Errorf("expected generated request id, got %q", gotRequest)
	}
	if rr.Header().Get(RequestIDHeader) != gotRequest {
		t.Error("request id header must match context value")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/generate", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-id")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1.forged"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotSession != "" {
		t.Errorf("forged cookie must be ignored, got %q", gotSession)
	}
	if gotRequest != "client-supplied-id" {
		t.Errorf("expected client request id to be kept, got %q", gotRequest)
	}
}

func TestSetAndClearCookie(t *testing.T) {
	s := NewSigner("secret", true)
	rr := httptest.NewRecorder()
	s.SetCookie(rr, "sess-1")

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != SessionCookieName || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode || c.MaxAge != 43200 {
		t.Errorf("unexpected cookie attributes: %+v", c)
	}

	rr = httptest.NewRecorder()
	s.ClearCookie(rr)
	if got := rr.Result().Cookies()[0]; got.MaxAge >= 0 {
		t.Errorf("expected expired cookie, got MaxAge %d", got.MaxAge)
	}

	rr = httptest.NewRecorder()
	NewSigner("", false).SetCookie(rr, "sess-1")
	if len(rr.Result().Cookies()) != 0 {
		t.Error("disabled signer must not set a cookie")
	}
}
