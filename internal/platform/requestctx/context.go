// Package requestctx carries per-request metadata through context: the scoped
// logger, trace identifiers and the marketplace scope (partner, order, payment
// provider) a request resolves to.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceKey
	scopeKey
)

var nop = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Scope names what a request is about. Handlers and the request logger fill it
// as routing resolves path parameters; background work copies it into events.
type Scope struct {
	RequestID string
	PartnerID string
	OrderID   string
	Provider  string
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WithLogger stores logger on ctx; nil stores the shared no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(orBackground(ctx), loggerKey, logger)
}

// Logger returns the logger stored on ctx or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, _ := ctx.Value(loggerKey).(*zap.Logger); logger != nil {
			return logger
		}
	}
	return nop
}

// NoopLogger exposes the shared no-op logger so callers can detect the fallback.
func NoopLogger() *zap.Logger { return nop }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithScope returns a context whose scope is the current one updated by edit.
// The parent's scope is never mutated.
func WithScope(ctx context.Context, edit func(*Scope)) context.Context {
	scope := ScopeFrom(ctx)
	if edit != nil {
		edit(&scope)
	}
	return context.WithValue(orBackground(ctx), scopeKey, scope)
}

// ScopeFrom returns the scope stored on ctx, zero when absent.
func ScopeFrom(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	scope, _ := ctx.Value(scopeKey).(Scope)
	return scope
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return WithScope(ctx, func(s *Scope) { s.RequestID = id })
}

func RequestID(ctx context.Context) string {
	return ScopeFrom(ctx).RequestID
}
