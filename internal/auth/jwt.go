// Package auth provides JWT bearer authentication for the library server.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/metrics"
	"github.com/leafcutter/leafcutter/pkg/protocol"
)

type contextKey string

const (
	claimsContextKey contextKey = "claims"
)

// Issuer is the iss claim of every token.
const Issuer = "leafcutter"

// Claims holds JWT token claims.
type Claims struct {
	// Libraries restricts the token to the named libraries. Empty means all.
	Libraries []string `json:"libraries,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant access to library name.
func (c *Claims) Allows(name string) bool {
	if len(c.Libraries) == 0 {
		return true
	}
	for _, l := range c.Libraries {
		if l == name {
			return true
		}
	}
	return false
}

// Auth issues and validates HS256 tokens.
type Auth struct {
	secret []byte
	ttl    time.Duration

	mu      sync.RWMutex
	revoked map[string]struct{}
}

// New creates an Auth. A zero ttl issues 30-day tokens.
func New(secret string, ttl time.Duration) (*Auth, error) {
	if secret == "" {
		return nil, errors.New("auth: empty JWT secret")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Auth{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: make(map[string]struct{}),
	}, nil
}

// IssueToken signs a token for subject, optionally limited to libraries.
func (a *Auth) IssueToken(subject string, libraries ...string) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		Libraries: libraries,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	logging.Info("token issued", zap.String("subject", subject), zap.Strings("libraries", libraries))
	return tokenStr, claims.ExpiresAt.Time, nil
}

// Validate parses tokenStr and checks its signature, expiry, issuer and
// revocation.
func (a *Auth) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if a.isRevoked(tokenStr) {
		return nil, fmt.Errorf("token has been revoked")
	}
	return claims, nil
}

// Revoke rejects tokenStr for the lifetime of this process.
func (a *Auth) Revoke(tokenStr string) {
	a.mu.Lock()
	a.revoked[hashToken(tokenStr)] = struct{}{}
	a.mu.Unlock()
}

func (a *Auth) isRevoked(tokenStr string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.revoked[hashToken(tokenStr)]
	return ok
}

// Middleware returns HTTP middleware that validates JWT tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.Validate(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.Debug("rejected token", zap.Error(err))
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		metrics.RecordAuthAttempt(true)
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// WithClaims injects claims into a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback, used by EventSource clients
	return r.URL.Query().Get("token")
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
