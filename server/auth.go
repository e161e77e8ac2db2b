package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/helpdesk/config"
)

// ErrUnauthorized is returned by a Verifier for any rejected token.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier authenticates a bearer token and returns the actor it names.
type Verifier interface {
	Verify(ctx context.Context, token string) (actor string, err error)
}

// NewVerifier builds the Verifier selected by cfg.Mode.
func NewVerifier(cfg config.AuthConfig) Verifier {
	if cfg.Mode == config.AuthModeJWKS {
		return NewJWKSVerifier(cfg.JWKSURL, cfg.Issuer, cfg.Audience, cfg.JWKSTTL)
	}
	return NewHMACVerifier(cfg.JWTSecret)
}

// HMACVerifier issues and verifies HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewHMACVerifier returns a verifier for tokens signed with secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for subject that expires after ttl.
func (v *HMACVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and expiry and returns the sub claim.
func (v *HMACVerifier) Verify(_ context.Context, token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", mapJWTError(err)
	}
	return subject(claims)
}

// JWKSVerifier verifies RS256 tokens against keys published at a JWKS URL.
// The key set is cached for ttl; an unknown key ID forces an early refresh
// at most once per minRefresh.
type JWKSVerifier struct {
	url      string
	issuer   string
	audience string
	ttl      time.Duration
	client   *http.Client
	now      func() time.Time

	mu        sync.Mutex
	keys      jose.JSONWebKeySet
	fetchedAt time.Time
}

const minRefresh = 10 * time.Second

// NewJWKSVerifier returns a verifier for the given key set URL. Empty issuer
// or audience disables that check. A non-positive ttl means one hour.
func NewJWKSVerifier(url, issuer, audience string, ttl time.Duration) *JWKSVerifier {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWKSVerifier{
		url:      url,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Verify checks the token signature with the key named by its kid header,
// then expiry, issuer and audience, and returns the sub claim.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	}, opts...)
	if err != nil {
		return "", mapJWTError(err)
	}
	return subject(claims)
}

// key returns the public key with the given ID, refreshing the cached set
// when it is stale or does not contain kid.
func (v *JWKSVerifier) key(ctx context.Context, kid string) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if v.fetchedAt.IsZero() || now.Sub(v.fetchedAt) > v.ttl {
		if err := v.refresh(ctx); err != nil {
			return nil, err
		}
	}
	if k := v.lookup(kid); k != nil {
		return k, nil
	}
	if now.Sub(v.fetchedAt) >= minRefresh {
		if err := v.refresh(ctx); err != nil {
			return nil, err
		}
		if k := v.lookup(kid); k != nil {
			return k, nil
		}
	}
	return nil, fmt.Errorf("key %q not found", kid)
}

func (v *JWKSVerifier) lookup(kid string) any {
	for _, k := range v.keys.Key(kid) {
		if k.IsPublic() {
			return k.Key
		}
	}
	return nil
}

func (v *JWKSVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	v.keys = set
	v.fetchedAt = v.now()
	return nil
}

func subject(claims jwt.RegisteredClaims) (string, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// mapJWTError translates jwt library errors to ErrUnauthorized with a short
// reason.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}
	return fmt.Errorf("%w: %v", ErrUnauthorized, err)
}

// loginRequest is the body accepted by POST /api/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the body returned by a successful login.
type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin validates the admin credentials and issues a token. Only
// available in local auth mode.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	issuer, ok := s.verifier.(*HMACVerifier)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "local login is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username != s.cfg.Auth.AdminUser || s.cfg.Auth.AdminPass == "" ||
		bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.AdminPass), []byte(req.Password)) != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ttl := s.cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := issuer.Issue(req.Username, ttl)
	if err != nil {
		s.logger.Error("issue token", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// handleMe returns the currently authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": subjectFromContext(r.Context())})
}

// bearerToken extracts the token from the Authorization header, falling back
// to the token query parameter used by EventSource clients.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authMiddleware enforces bearer authentication on wrapped handlers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		subject, err := s.verifier.Verify(r.Context(), bearerToken(r))
		if err != nil {
			s.logger.Debug("token rejected", slog.Any("err", err))
			writeJSONError(w, http.StatusUnauthorized, "invalid token: "+strings.TrimPrefix(err.Error(), "unauthorized: "))
			return
		}
		ctx := contextWithSubject(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
