package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mercadoparceiro/api/internal/platform/requestctx"
)

// Standard user-facing messages (pt-BR).
const (
	MessageInternal     = "Erro interno. Tente novamente mais tarde."
	MessageUnauthorized = "Você precisa estar autenticado."
	MessageForbidden    = "Você não tem permissão para realizar esta ação."
	MessageNotFound     = "Registro não encontrado."
	MessageInvalidBody  = "Dados da requisição inválidos."
	MessageBodyTooLarge = "Requisição muito grande."
	MessageUnavailable  = "Serviço temporariamente indisponível."
	MessageRateLimited  = "Muitas requisições. Aguarde e tente novamente."
)

// Error represents the canonical JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Field     string
	Status    int
	RequestID string
	TraceID   string
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithField names the input field that failed validation.
func (e Error) WithField(field string) Error {
	e.Field = sanitize(field, 80)
	return e
}

// envelope is the wire shape shared by every error response.
type envelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteError writes the error envelope {success:false, error, message, ...}.
// Request and trace ids default to the ones carried by ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	body := envelope{
		Error:     err.Code,
		Message:   err.Message,
		Field:     err.Field,
		RequestID: firstNonEmpty(err.RequestID, sanitize(middleware.GetReqID(ctx), 80)),
		TraceID:   firstNonEmpty(err.TraceID, sanitize(requestctx.TraceID(ctx), 64)),
	}
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// sanitize flattens line breaks and caps the rune count of client-visible text.
func sanitize(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, value))
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
