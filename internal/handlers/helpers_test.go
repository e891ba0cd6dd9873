package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mercadoparceiro/api/internal/services"
	"github.com/mercadoparceiro/api/internal/validation"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "unauthenticated", err: services.ErrCallerUnauthenticated, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "wrapped forbidden", err: fmt.Errorf("load: %w", services.ErrAddressForbidden), status: http.StatusForbidden, code: "address_forbidden"},
		{name: "not found", err: services.ErrCNPJNotFound, status: http.StatusNotFound, code: "cnpj_not_found"},
		{name: "conflict", err: services.ErrServiceCodeConflict, status: http.StatusConflict, code: "service_code_conflict"},
		{name: "unprocessable", err: services.ErrAddressLimit, status: http.StatusUnprocessableEntity, code: "address_limit"},
		{name: "upstream", err: services.ErrCNPJLookupFailed, status: http.StatusBadGateway, code: "cnpj_lookup_failed"},
		{name: "bare validation", err: &validation.Error{Field: "name", Message: "Nome é obrigatório"}, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "unknown", err: errors.New("pq: connection reset"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(context.Background(), rr, tc.err)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if body["success"] != false {
				t.Fatalf("expected success=false, got %v", body["success"])
			}
		})
	}
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(context.Background(), rr, errors.New("dial tcp 10.0.0.5:5432: refused"))
	if bytes.Contains(rr.Body.Bytes(), []byte("10.0.0.5")) {
		t.Fatalf("internal error leaked: %s", rr.Body.String())
	}
}

func TestDecodeJSONBody_Limits(t *testing.T) {
	var dst map[string]any

	rr := httptest.NewRecorder()
	big := bytes.Repeat([]byte("a"), maxJSONBodySize+10)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(append(append([]byte(`{"x":"`), big...), '"', '}')))
	if decodeJSONBody(rr, req, &dst) {
		t.Fatalf("expected oversized body to be rejected")
	}
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	if decodeJSONBody(rr, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`[1,`))), &dst) {
		t.Fatalf("expected malformed body to be rejected")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
