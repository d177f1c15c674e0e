package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newAuth(t *testing.T, ttl time.Duration) *Auth {
	t.Helper()
	a, err := New("test-secret", ttl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestIssueAndValidate(t *testing.T) {
	a := newAuth(t, time.Hour)

	token, exp, err := a.IssueToken("studio-mac", "909")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if time.Until(exp) > time.Hour || time.Until(exp) < 59*time.Minute {
		t.Errorf("unexpected expiry %v", exp)
	}

	claims, err := a.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "studio-mac" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if !claims.Allows("909") || claims.Allows("808") {
		t.Errorf("library scope not applied: %v", claims.Libraries)
	}
}

func TestValidateRejects(t *testing.T) {
	a := newAuth(t, time.Hour)
	other := newAuth(t, time.Hour)
	other.secret = []byte("another-secret")

	foreign, _, _ := other.IssueToken("x")
	if _, err := a.Validate(foreign); err == nil {
		t.Error("token signed with another secret must be rejected")
	}

	expired := newAuth(t, time.Hour)
	expired.ttl = -time.Minute
	old, _, _ := expired.IssueToken("x")
	if _, err := a.Validate(old); err == nil {
		t.Error("expired token must be rejected")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := a.Validate(unsigned); err == nil {
		t.Error("alg none must be rejected")
	}

	good, _, _ := a.IssueToken("x")
	a.Revoke(good)
	if _, err := a.Validate(good); err == nil {
		t.Error("revoked token must be rejected")
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New("", 0); err == nil {
		t.Error("expected error for empty secret")
	}
	a := newAuth(t, 0)
	if a.ttl != 30*24*time.Hour {
		t.Errorf("default ttl = %v", a.ttl)
	}
}

func TestMiddleware(t *testing.T) {
	a := newAuth(t, time.Hour)
	token, _, _ := a.IssueToken("client")

	var seen *Claims
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest("GET", "/library/909/index.json", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusNoContent && (seen == nil || seen.Subject != "client") {
				t.Errorf("claims not propagated: %+v", seen)
			}
		})
	}
}
