package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references (Mercado Pago client secret, webhook
// keys, database DSN) against Google Secret Manager, caching values for a TTL.
// When Secret Manager is absent, denies access or is down, the dotenv-format
// fallback file keyed by secret name is read instead, which is how local
// development runs.
type Fetcher struct {
	client     secretManagerClient
	clientOpts []option.ClientOption
	ownsClient bool
	logger     *zap.Logger
	projectID  string
	ttl        time.Duration
	clock      func() time.Time

	fallbackPath string
	fallback     func() map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithProject sets the default Google Cloud project hosting the secrets.
func WithProject(projectID string) Option {
	return func(f *Fetcher) { f.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile sets the local fallback file; "" disables it.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackPath = strings.TrimSpace(path) }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) { f.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) { f.clientOpts = append(f.clientOpts, opts...) }
}

func WithClock(clock func() time.Time) Option {
	return func(f *Fetcher) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// NewFetcher only dials Secret Manager when a project is configured. A dial
// failure is logged and leaves the fetcher in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		ttl:          defaultCacheTTL,
		clock:        time.Now,
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]cachedSecret),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.fallback = sync.OnceValue(f.readFallback)

	if f.client == nil && f.projectID != "" {
		client, err := newSecretManagerClient(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using fallback file", zap.Error(err))
			return f, nil
		}
		f.client, f.ownsClient = client, true
	}
	return f, nil
}

// Close closes the Secret Manager client if NewFetcher dialed it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref, e.g.
// secret://mp-client-secret?version=3&project=other.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	now := f.clock()
	if value, ok := f.cached(ref.cacheKey(), now); ok {
		return value, nil
	}

	value, err := f.fromSecretManager(ctx, ref)
	if errors.Is(err, errUseFallback) {
		var ok bool
		if value, ok = f.fallback()[ref.secret]; !ok {
			return "", fmt.Errorf("secrets: no value for %s", ref)
		}
		err = nil
	}
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[ref.cacheKey()] = cachedSecret{value: value, expiresAt: now.Add(f.ttl)}
	f.mu.Unlock()
	return value, nil
}

var errUseFallback = errors.New("secrets: use fallback")

func (f *Fetcher) fromSecretManager(ctx context.Context, ref reference) (string, error) {
	name := ref.resourceName(f.projectID)
	if f.client == nil || name == "" {
		return "", errUseFallback
	}
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	switch {
	case err == nil && resp.GetPayload() == nil:
		return "", fmt.Errorf("secrets: empty payload for %s", ref)
	case err == nil:
		return string(resp.GetPayload().GetData()), nil
	}
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		f.logger.Debug("secret manager miss, trying fallback file", zap.Stringer("ref", ref), zap.Error(err))
		return "", errUseFallback
	}
	return "", fmt.Errorf("secrets: fetch %s: %w", ref, err)
}

func (f *Fetcher) cached(key string, now time.Time) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok || !now.Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) readFallback() map[string]string {
	if f.fallbackPath == "" {
		return nil
	}
	values, err := godotenv.Read(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("cannot read secrets fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
		}
		return nil
	}
	return values
}
