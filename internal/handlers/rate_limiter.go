package handlers

import (
	"context"
	"net"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/httpx"
)

// RateLimiter admits or rejects one hit for key. *redisx.RateLimiter
// implements it over Redis or the in-process fallback store.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateLimitMiddleware throttles by user id when the caller is authenticated
// and by client IP otherwise. A nil limiter, typed or not, disables it.
func RateLimitMiddleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiterDisabled(limiter) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow(r.Context(), rateLimitKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", "60")
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", httpx.MessageRateLimited, http.StatusTooManyRequests))
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return "user:" + identity.UserID
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		// no address to share a bucket on; limit per request instead
		host = middleware.GetReqID(r.Context())
	}
	return "ip:" + host
}

func limiterDisabled(limiter RateLimiter) bool {
	if limiter == nil {
		return true
	}
	v := reflect.ValueOf(limiter)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
