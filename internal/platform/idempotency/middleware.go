package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxGuardedBody    = 1 << 20
	anonymousCaller   = "anonymous"
)

type Logger interface {
	Printf(format string, args ...any)
}

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	optional bool
	clock    func() time.Time
	logger   Logger
}

type MiddlewareOption func(*guard)

// WithHeader renames the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithOptionalKey lets requests without a key run unguarded instead of 400.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) { g.logger = logger }
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware makes mutating requests safe to retry. The first request with a
// key runs and its response is stored; repeats from the same caller with the
// same method, path, query and body get that response replayed. A repeat
// with a different body is a 409, as is one that arrives while the first is
// still running. 5xx answers are not stored so the key can be retried.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{store: store, header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	clientKey := strings.TrimSpace(r.Header.Get(g.header))
	if clientKey == "" {
		if g.optional {
			next.ServeHTTP(w, r)
			return
		}
		fail(w, r, http.StatusBadRequest, "idempotency_key_required", "Cabeçalho "+g.header+" é obrigatório.")
		return
	}

	body, err := bufferBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", httpx.MessageBodyTooLarge)
			return
		}
		fail(w, r, http.StatusBadRequest, "invalid_body", httpx.MessageInvalidBody)
		return
	}

	key := scopedKey(clientKey, caller(r))
	fp := fingerprint(r, body)
	res, err := g.store.Reserve(ctx, key, fp, g.clock(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		fail(w, r, http.StatusConflict, "idempotency_key_conflict", "Chave de idempotência já usada em outra requisição.")
		return
	case err != nil:
		g.logf("idempotency: reserve: %v", err)
		fail(w, r, http.StatusServiceUnavailable, "idempotency_store_error", httpx.MessageUnavailable)
		return
	}
	switch res.State {
	case ReservationStateCompleted:
		replay(w, res.Record.Response)
		return
	case ReservationStatePending:
		fail(w, r, http.StatusConflict, "idempotency_in_progress", "Requisição em processamento. Tente novamente em instantes.")
		return
	}

	rec := newResponseRecorder(w)
	next.ServeHTTP(rec, r)
	defer rec.flush()

	if rec.Status() >= http.StatusInternalServerError {
		g.release(r, key, fp)
		return
	}
	resp := Response{Status: rec.Status(), Headers: rec.header, Body: rec.body.Bytes()}
	if err := g.store.SaveResponse(ctx, key, fp, resp, g.clock(), g.ttl); err != nil {
		// the client still gets its answer; a retry will run the handler again
		g.logf("idempotency: save response: %v", err)
		g.release(r, key, fp)
	}
}

func (g *guard) release(r *http.Request, key, fp string) {
	if err := g.store.Release(r.Context(), key, fp); err != nil {
		g.logf("idempotency: release: %v", err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func caller(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.UserID
	}
	return anonymousCaller
}

// scopedKey namespaces a client key by caller so two buyers picking the same
// key never share a record.
func scopedKey(clientKey, caller string) string {
	return caller + ":" + clientKey
}

// bufferBody reads the body for fingerprinting and puts it back for the handler.
func bufferBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGuardedBody))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprint(r *http.Request, body []byte) string {
	return sha256Hex([]byte(strings.Join([]string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		sha256Hex(body),
	}, "\n")))
}

func replay(w http.ResponseWriter, resp *Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	w.WriteHeader(max(resp.Status, http.StatusOK))
	_, _ = w.Write(resp.Body)
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
