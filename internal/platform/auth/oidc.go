package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sfykart/api/internal/platform/config"
	"github.com/sfykart/api/internal/platform/httpx"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing keys.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const defaultJWKSTTL = 15 * time.Minute

// JWKSCache fetches and caches JSON Web Keys. Concurrent refreshes collapse into one request.
type JWKSCache struct {
	url    string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// NewJWKSCache constructs a cache for url. A nil client falls back to a 10s-timeout client.
func NewJWKSCache(url string, client *http.Client, now func() time.Time) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if now == nil {
		now = time.Now
	}
	return &JWKSCache{url: url, client: client, ttl: defaultJWKSTTL, now: now}
}

// Key resolves the public key for kid, refreshing once when it is unknown or the set has expired.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	if _, err, _ := c.group.Do("refresh", func() (any, error) { return nil, c.refresh(ctx) }); err != nil {
		return nil, err
	}
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) cached(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.now().Before(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// ServiceVerifier authenticates server-to-server callers (fulfilment webhooks, schedulers)
// presenting Google-signed OIDC tokens.
type ServiceVerifier struct {
	cache    *JWKSCache
	audience string
	issuers  map[string]struct{}
	logger   *zap.Logger
}

// NewServiceVerifier builds a verifier from configuration. A nil cache derives one from cfg.JWKSURL.
func NewServiceVerifier(cfg config.OIDCConfig, cache *JWKSCache, logger *zap.Logger) *ServiceVerifier {
	if cache == nil && strings.TrimSpace(cfg.JWKSURL) != "" {
		cache = NewJWKSCache(cfg.JWKSURL, nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	issuers := make(map[string]struct{}, len(cfg.Issuers))
	for _, issuer := range cfg.Issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			issuers[issuer] = struct{}{}
		}
	}
	return &ServiceVerifier{
		cache:    cache,
		audience: strings.TrimSpace(cfg.Audience),
		issuers:  issuers,
		logger:   logger,
	}
}

// RequireService admits requests carrying a valid RS256 token for the configured audience.
// The resulting identity carries the staff role so service callers may advance orders.
func (v *ServiceVerifier) RequireService() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v == nil || v.cache == nil || v.audience == "" {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "service authentication not configured", http.StatusServiceUnavailable))
				return
			}
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "service token missing", http.StatusUnauthorized))
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
				kid, _ := token.Header["kid"].(string)
				if kid == "" {
					return nil, errors.New("auth: token missing kid header")
				}
				return v.cache.Key(ctx, kid)
			})
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrJWKSFetchFailed) {
					status = http.StatusServiceUnavailable
				}
				v.logger.Warn("auth: service token rejected", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "service token verification failed", status))
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(v.issuers) > 0 {
				if _, ok := v.issuers[issuer]; !ok {
					httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "service token issuer mismatch", http.StatusUnauthorized))
					return
				}
			}
			if !claims.VerifyAudience(v.audience, true) {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "service token audience mismatch", http.StatusUnauthorized))
				return
			}

			subject, _ := claims["sub"].(string)
			email, _ := claims["email"].(string)
			identity := &Identity{
				UID:     subject,
				Email:   email,
				Roles:   []string{RoleStaff},
				Service: true,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}
