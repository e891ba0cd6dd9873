package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/redisx"
)

func multipartImage(t *testing.T, purpose string, includeFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if purpose != "" {
		if err := mw.WriteField("purpose", purpose); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if includeFile {
		part, err := mw.CreateFormFile("file", "logo.png")
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, purpose string, includeFile bool) *http.Request {
	body, contentType := multipartImage(t, purpose, includeFile)
	req := httptest.NewRequest(http.MethodPost, "/partners/"+testPartnerID+"/uploads", body)
	req.Header.Set("Content-Type", contentType)
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "owner"}))
}

func TestUploadHandlers_Upload(t *testing.T) {
	media := &stubMedia{}
	r := chi.NewRouter()
	NewUploadHandlers(nil, stubGate{allowPartner: true}, media).Routes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, uploadRequest(t, "logos", true))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if media.last.Purpose != "logos" || media.last.PartnerID != testPartnerID || media.last.FileName != "logo.png" {
		t.Fatalf("unexpected command %+v", media.last)
	}
	if body := decodeBody(t, rr); body["url"] == "" {
		t.Fatalf("missing url: %v", body)
	}
}

func TestUploadHandlers_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		allow   bool
		purpose string
		file    bool
		status  int
	}{
		{name: "not the owner", allow: false, purpose: "logos", file: true, status: http.StatusForbidden},
		{name: "unknown purpose", allow: true, purpose: "banners", file: true, status: http.StatusBadRequest},
		{name: "missing file", allow: true, purpose: "logos", file: false, status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			media := &stubMedia{}
			r := chi.NewRouter()
			NewUploadHandlers(nil, stubGate{allowPartner: tc.allow}, media).Routes(r)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, uploadRequest(t, tc.purpose, tc.file))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if media.calls != 0 {
				t.Fatalf("media service must not be called")
			}
		})
	}
}

type stubCompanyLookup struct {
	calls int
}

func (s *stubCompanyLookup) Lookup(_ context.Context, raw string) (domain.CompanyInfo, error) {
	s.calls++
	return domain.CompanyInfo{CNPJ: raw, LegalName: "PADARIA BOM PAO LTDA", State: "SP"}, nil
}

func TestCompanyHandlers_LookupIsRateLimited(t *testing.T) {
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	lookup := &stubCompanyLookup{}
	clock := func() time.Time { return now }
	limiter := redisx.NewRateLimiter(redisx.NewMemoryKV(clock), "cnpj", 2, time.Minute, clock)
	r := chi.NewRouter()
	NewCompanyHandlers(nil, lookup, limiter).Routes(r)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, authedRequest(http.MethodGet, "/cnpj/11222333000181", nil, testBuyerID))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
		data, _ := decodeBody(t, rr)["data"].(map[string]any)
		if data["razao_social"] != "PADARIA BOM PAO LTDA" {
			t.Fatalf("unexpected payload %v", data)
		}
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/cnpj/11222333000181", nil, testBuyerID))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if lookup.calls != 2 {
		t.Fatalf("expected two lookups, got %d", lookup.calls)
	}

	// Other callers keep their own budget.
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/cnpj/11222333000181", nil, "someone-else"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for another user, got %d", rr.Code)
	}
}
