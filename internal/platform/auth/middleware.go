package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/mercadoparceiro/api/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

var errMissingToken = errors.New("auth: bearer token missing")

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier TokenVerifier
	timeout  time.Duration
}

type Option func(*Authenticator)

// WithVerificationTimeout bounds a single verification, JWKS fetch included.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// OptionalAuth verifies a bearer token when one is sent. Anonymous requests
// pass through; a bad token is still rejected rather than ignored.
func (a *Authenticator) OptionalAuth() func(http.Handler) http.Handler {
	return a.middleware(false, nil)
}

// RequireAuth rejects anonymous requests. With roles, the caller needs one of
// them. An identity already attached by OptionalAuth is reused.
func (a *Authenticator) RequireAuth(roles ...string) func(http.Handler) http.Handler {
	return a.middleware(true, roles)
}

func (a *Authenticator) middleware(required bool, roles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := IdentityFromContext(ctx)
			if !ok {
				var err error
				identity, err = a.identify(r)
				switch {
				case errors.Is(err, errMissingToken) && !required:
					next.ServeHTTP(w, r)
					return
				case err != nil:
					writeAuthError(w, r, err)
					return
				}
				ctx = WithIdentity(ctx, identity)
			}
			if len(roles) > 0 && !slices.ContainsFunc(roles, identity.HasRole) {
				httpx.WriteError(ctx, w, httpx.NewError("forbidden", httpx.MessageForbidden, http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) identify(r *http.Request) (*Identity, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, errMissingToken
	}
	if a == nil || a.verifier == nil {
		return nil, ErrTokenInvalid
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	return a.verifier.Verify(ctx, token)
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	e := httpx.NewError("unauthenticated", httpx.MessageUnauthorized, http.StatusUnauthorized)
	switch {
	case errors.Is(err, ErrTokenExpired):
		e = httpx.NewError("token_expired", "Sua sessão expirou. Entre novamente.", http.StatusUnauthorized)
	case errors.Is(err, ErrJWKSFetchFailed):
		e = httpx.NewError("verification_unavailable", httpx.MessageUnavailable, http.StatusServiceUnavailable)
	}
	httpx.WriteError(r.Context(), w, e)
}

// bearerToken returns the credentials of a "Bearer" Authorization header, or "".
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
