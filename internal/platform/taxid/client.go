// Package taxid queries a BrasilAPI-compatible registry for company (CNPJ) data.
package taxid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/observability"
	"github.com/mercadoparceiro/api/internal/platform/textutil"
)

const (
	DefaultBaseURL = "https://brasilapi.com.br/api"
	defaultTimeout = 10 * time.Second
)

var (
	ErrNotFound = errors.New("taxid: cnpj not found")
	ErrUpstream = errors.New("taxid: registry error")
)

// Client fetches CNPJ records.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL; empty uses BrasilAPI.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

type cnpjResponse struct {
	CNPJ                string `json:"cnpj"`
	RazaoSocial         string `json:"razao_social"`
	NomeFantasia        string `json:"nome_fantasia"`
	SituacaoCadastral   string `json:"descricao_situacao_cadastral"`
	Logradouro          string `json:"logradouro"`
	Numero              string `json:"numero"`
	Complemento         string `json:"complemento"`
	Bairro              string `json:"bairro"`
	Municipio           string `json:"municipio"`
	UF                  string `json:"uf"`
	CEP                 string `json:"cep"`
	Telefone            string `json:"ddd_telefone_1"`
	Email               string `json:"email"`
	DataInicioAtividade string `json:"data_inicio_atividade"`
	TipoLogradouro      string `json:"descricao_tipo_de_logradouro"`
}

// Lookup fetches cnpj, which must already be normalised to 14 digits.
func (c *Client) Lookup(ctx context.Context, cnpj string) (domain.CompanyInfo, error) {
	ctx, end := observability.StartSpan(ctx, "taxid.lookup", attribute.String("taxid.provider", "brasilapi"))
	info, err := c.lookup(ctx, cnpj)
	if errors.Is(err, ErrNotFound) {
		end(nil)
	} else {
		end(err)
	}
	return info, err
}

func (c *Client) lookup(ctx context.Context, cnpj string) (domain.CompanyInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cnpj/v1/"+cnpj, nil)
	if err != nil {
		return domain.CompanyInfo{}, fmt.Errorf("taxid: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CompanyInfo{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return domain.CompanyInfo{}, ErrNotFound
	case res.StatusCode < 200 || res.StatusCode > 299:
		return domain.CompanyInfo{}, fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}

	var body cnpjResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&body); err != nil {
		return domain.CompanyInfo{}, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	return body.toDomain(cnpj), nil
}

func (r cnpjResponse) toDomain(cnpj string) domain.CompanyInfo {
	street := strings.TrimSpace(r.Logradouro)
	if kind := strings.TrimSpace(r.TipoLogradouro); kind != "" && !strings.HasPrefix(strings.ToUpper(street), strings.ToUpper(kind)) {
		street = kind + " " + street
	}
	info := domain.CompanyInfo{
		CNPJ:       cnpj,
		LegalName:  strings.TrimSpace(r.RazaoSocial),
		TradeName:  strings.TrimSpace(r.NomeFantasia),
		Status:     strings.TrimSpace(r.SituacaoCadastral),
		Street:     street,
		Number:     strings.TrimSpace(r.Numero),
		Complement: strings.TrimSpace(r.Complemento),
		District:   strings.TrimSpace(r.Bairro),
		City:       strings.TrimSpace(r.Municipio),
		State:      strings.ToUpper(strings.TrimSpace(r.UF)),
		PostalCode: textutil.DigitsOnly(r.CEP),
		Phone:      textutil.DigitsOnly(r.Telefone),
		Email:      strings.ToLower(strings.TrimSpace(r.Email)),
	}
	if opened, err := time.Parse("2006-01-02", strings.TrimSpace(r.DataInicioAtividade)); err == nil {
		info.OpenedAt = &opened
	}
	return info
}
