package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

type jwksFixture struct {
	server   *httptest.Server
	requests atomic.Int32
	failing  atomic.Bool
	clock    time.Time
}

func newJWKSFixture(t *testing.T) (*jwksFixture, *JWKSCache) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.requests.Add(1)
		if f.failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Cache-Control", "max-age=60")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"},
			{Key: &key.PublicKey, KeyID: "enc", Algorithm: "RSA-OAEP", Use: "enc"},
		}})
	}))
	t.Cleanup(f.server.Close)
	cache := NewJWKSCache(f.server.URL, WithJWKSClock(func() time.Time { return f.clock }))
	return f, cache
}

func TestJWKSCacheHonoursMaxAge(t *testing.T) {
	f, cache := newJWKSFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.Key(ctx, "k1"); err != nil {
			t.Fatalf("Key: %v", err)
		}
	}
	if got := f.requests.Load(); got != 1 {
		t.Fatalf("expected one fetch inside max-age, got %d", got)
	}

	f.clock = f.clock.Add(61 * time.Second)
	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if got := f.requests.Load(); got != 2 {
		t.Fatalf("expected refetch after expiry, got %d", got)
	}
}

func TestJWKSCacheThrottlesUnknownKids(t *testing.T) {
	f, cache := newJWKSFixture(t)
	ctx := context.Background()
	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("Key: %v", err)
	}

	_, err := cache.Key(ctx, "forged")
	if !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
	}
	if got := f.requests.Load(); got != 1 {
		t.Fatalf("unknown kid right after a fetch must not refetch, got %d fetches", got)
	}

	if _, err := cache.Key(ctx, "enc"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("encryption keys must be skipped, got %v", err)
	}
}

func TestJWKSCacheServesStaleKeysWhileProviderIsDown(t *testing.T) {
	f, cache := newJWKSFixture(t)
	ctx := context.Background()
	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("Key: %v", err)
	}

	f.failing.Store(true)
	f.clock = f.clock.Add(5 * time.Minute)
	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("expected cached key during grace, got %v", err)
	}

	f.clock = f.clock.Add(2 * time.Hour)
	if _, err := cache.Key(ctx, "k1"); !errors.Is(err, ErrJWKSFetchFailed) {
		t.Fatalf("expected ErrJWKSFetchFailed past grace, got %v", err)
	}
}
