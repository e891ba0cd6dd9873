package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/httpx"
	"github.com/mercadoparceiro/api/internal/platform/pagination"
	"github.com/mercadoparceiro/api/internal/platform/requestctx"
	"github.com/mercadoparceiro/api/internal/services"
	"github.com/mercadoparceiro/api/internal/validation"
)

const maxJSONBodySize = 64 * 1024

var errBodyTooLarge = errors.New("request body too large")

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a bounded JSON body into dst and writes the error
// response itself when it fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxJSONBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", httpx.MessageBodyTooLarge, http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", httpx.MessageInvalidBody, http.StatusBadRequest))
		return false
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", httpx.MessageInvalidBody, http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", httpx.MessageInvalidBody, http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", httpx.MessageUnauthorized, http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "Parâmetro "+name+" é obrigatório.", http.StatusBadRequest))
		return "", false
	}
	return value, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", httpx.MessageUnavailable, http.StatusServiceUnavailable))
}

func parsePager(w http.ResponseWriter, r *http.Request, allowed map[string][]string) (pagination.Params, domain.Pagination, bool) {
	params, err := pagination.FromRequest(r, pagination.Options{AllowedFilters: allowed})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "Parâmetros de paginação inválidos.", http.StatusBadRequest))
		return pagination.Params{}, domain.Pagination{}, false
	}
	return params, domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, true
}

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func buildList[S, T any](page domain.Page[S], convert func(S) T) listResponse[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, convert(item))
	}
	return listResponse[T]{Items: items, NextPageToken: page.NextPageToken}
}

// writeServiceError maps service errors onto the JSON envelope. Field-level
// validation failures keep their field name; anything unclassified becomes a
// 500 with the generic message and is logged.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	code := "internal_error"
	message := httpx.MessageInternal
	var domainErr services.DomainError
	if errors.As(err, &domainErr) {
		code = domainErr.Code()
		message = domainErr.SafeMessage()
	}

	if verr, ok := validation.AsError(err); ok {
		if code == "internal_error" {
			code = "invalid_input"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, verr.Message, http.StatusBadRequest).WithField(verr.Field))
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrUnprocessable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		code = "internal_error"
		message = httpx.MessageInternal
	}
	if status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Error("request failed", zap.String("code", code), zap.Error(err))
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
