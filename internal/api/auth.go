package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeBus is the only scope issued: it allows putting telegrams on the bus.
const ScopeBus = "bus"

// defaultTokenTTL applies when IssueToken is given a zero TTL.
const defaultTokenTTL = 24 * time.Hour

var (
	// ErrTokenMissing means a bus command arrived without a bearer token.
	ErrTokenMissing = errors.New("bearer token required")
	// ErrTokenInvalid means the token failed signature, expiry or scope checks.
	ErrTokenInvalid = errors.New("invalid token")
)

// TokenClaims are the claims carried by API bearer tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// IssueToken signs an HS256 bus token for subject.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is empty")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scope: ScopeBus,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates tok against secret and returns its claims.
func ParseToken(tok, secret string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tok, &TokenClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Scope != ScopeBus {
		return nil, fmt.Errorf("%w: scope %q", ErrTokenInvalid, claims.Scope)
	}
	return claims, nil
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on a websocket upgrade, so the access_token query parameter is accepted too.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// authorize checks the request token. Without a configured secret every
// request is allowed.
func (s *Server) authorize(r *http.Request) error {
	secret := s.cfg.Auth.Secret
	if secret == "" {
		return nil
	}
	tok := bearerToken(r)
	if tok == "" {
		return ErrTokenMissing
	}
	_, err := ParseToken(tok, secret)
	return err
}

// requireToken rejects requests that fail authorize.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorize(r); err != nil {
			s.logger.Warn("bus command rejected", "path", r.URL.Path, "error", err, "request_id", requestID(r))
			writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
