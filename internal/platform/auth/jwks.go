package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

var (
	ErrJWKSKeyNotFound = errors.New("auth: signing key not found")
	ErrJWKSFetchFailed = errors.New("auth: signing keys unavailable")
)

// Logger is the Printf-style sink the package reports background work to.
type Logger interface {
	Printf(format string, args ...any)
}

const (
	defaultKeyTTL = 15 * time.Minute
	// unknown kids may force a refetch at most this often
	minRefetchGap = 30 * time.Second
	// keys past expiry are still served this long when the provider is down
	staleGrace = time.Hour
)

type keySet struct {
	keys      map[string]any
	fetchedAt time.Time
	expiresAt time.Time
}

// JWKSCache holds the identity provider's RSA signing keys by kid. Concurrent
// misses share a single fetch; a failed refresh keeps serving the previous set
// for a grace period.
type JWKSCache struct {
	url    string
	client *http.Client
	logger Logger
	now    func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	set   *keySet
}

// JWKSOption customises a JWKSCache.
type JWKSOption func(*JWKSCache)

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) { c.logger = logger }
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{url: url, client: &http.Client{Timeout: 10 * time.Second}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Keyfunc adapts the cache to jwt parsing. Only RS256 tokens with a kid pass.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: alg %v not accepted", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid. An expired set or an unknown kid
// triggers a refetch, which is how provider key rotation is picked up.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()
	set := c.current()
	if set != nil && now.Before(set.expiresAt) {
		if key, ok := set.keys[kid]; ok {
			return key, nil
		}
		if now.Sub(set.fetchedAt) < minRefetchGap {
			return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
		}
	}

	fresh, err := c.fetchShared(ctx)
	if err != nil {
		if set != nil && now.Before(set.expiresAt.Add(staleGrace)) {
			if key, ok := set.keys[kid]; ok {
				c.logf("auth: jwks refresh failed, serving cached keys: %v", err)
				return key, nil
			}
		}
		return nil, err
	}
	if key, ok := fresh.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) current() *keySet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

func (c *JWKSCache) fetchShared(ctx context.Context) (*keySet, error) {
	v, err, _ := c.group.Do("jwks", func() (any, error) {
		set, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.set = set
		c.mu.Unlock()
		c.logf("auth: jwks loaded, %d keys until %s", len(set.keys), set.expiresAt.Format(time.RFC3339))
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySet), nil
}

func (c *JWKSCache) fetch(ctx context.Context) (*keySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var doc jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	now := c.now()
	set := &keySet{keys: make(map[string]any, len(doc.Keys)), fetchedAt: now}
	for _, jwk := range doc.Keys {
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		set.keys[jwk.KeyID] = jwk.Key
	}
	if len(set.keys) == 0 {
		return nil, fmt.Errorf("%w: no usable keys", ErrJWKSFetchFailed)
	}
	set.expiresAt = now.Add(cacheTTL(resp.Header.Get("Cache-Control")))
	return set, nil
}

func (c *JWKSCache) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// cacheTTL reads max-age from Cache-Control, defaulting when absent.
func cacheTTL(header string) time.Duration {
	for _, directive := range strings.Split(strings.ToLower(header), ",") {
		raw, ok := strings.CutPrefix(strings.TrimSpace(directive), "max-age=")
		if !ok {
			continue
		}
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultKeyTTL
}
