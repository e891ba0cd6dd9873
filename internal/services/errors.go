package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mercadoparceiro/api/internal/repositories"
	"github.com/mercadoparceiro/api/internal/validation"
)

// Error categories. Handlers map them to HTTP statuses.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("conflict")
	ErrUnprocessable   = errors.New("business rule violated")
	ErrUnavailable     = errors.New("dependency unavailable")
)

// BusinessError is a sentinel with a stable code and a pt-BR message safe to
// show to the caller.
type BusinessError struct {
	kind    error
	code    string
	message string
}

var _ DomainError = (*BusinessError)(nil)

func defineError(kind error, code, message string) *BusinessError {
	return &BusinessError{kind: kind, code: code, message: message}
}

func (e *BusinessError) Error() string { return e.code + ": " + e.kind.Error() }

func (e *BusinessError) Unwrap() error { return e.kind }

func (e *BusinessError) Code() string { return e.code }

func (e *BusinessError) SafeMessage() string { return e.message }

var (
	ErrCallerUnauthenticated = defineError(ErrUnauthenticated, "unauthenticated", "Você precisa estar autenticado.")

	ErrOrderInvalidInput = defineError(ErrInvalidInput, "invalid_order", "Dados do pedido inválidos")
	ErrOrderNotFound     = defineError(ErrNotFound, "order_not_found", "Pedido não encontrado")
	ErrOrderForbidden    = defineError(ErrForbidden, "order_forbidden", "Você não tem permissão para acessar este pedido")
	ErrOrderInvalidState = defineError(ErrConflict, "invalid_situation", "Transição de situação não permitida")
	ErrAmountMismatch    = defineError(ErrUnprocessable, "amount_mismatch", "O valor total não confere com os itens do pedido")
	ErrItemUnavailable   = defineError(ErrUnprocessable, "item_unavailable", "Item indisponível para este parceiro")
	ErrInsufficientStock = defineError(ErrUnprocessable, "insufficient_stock", "Estoque insuficiente")

	ErrPreferenceExists     = defineError(ErrConflict, "preference_exists", "Este pedido já possui uma preferência de pagamento")
	ErrOrderNotPending      = defineError(ErrConflict, "order_not_pending", "O pedido não está pendente")
	ErrPaymentNotConfigured = defineError(ErrUnprocessable, "payment_not_configured", "Vendedor não configurou pagamentos")
	ErrPaymentProvider      = defineError(ErrUnavailable, "payment_provider_error", "Erro ao comunicar com o provedor de pagamento")

	ErrNotificationInvalid = defineError(ErrInvalidInput, "invalid_notification", "Notificação inválida")
	ErrPaymentOwnership    = defineError(ErrForbidden, "payment_ownership", "Pagamento não pertence a este pedido")
	ErrOrderUnresolved     = defineError(ErrUnavailable, "order_unresolved", "Pedido da notificação não encontrado")
	ErrSellerTokenMissing  = defineError(ErrUnavailable, "seller_token_missing", "Vendedor sem credenciais de pagamento")

	ErrStockInvalidInput = defineError(ErrInvalidInput, "invalid_stock_movement", "Movimentação de estoque inválida")

	ErrAddressInvalidInput = defineError(ErrInvalidInput, "invalid_address", "Endereço inválido")
	ErrAddressNotFound     = defineError(ErrNotFound, "address_not_found", "Endereço não encontrado")
	ErrAddressForbidden    = defineError(ErrForbidden, "address_forbidden", "Você não tem permissão para alterar este endereço")
	ErrAddressLimit        = defineError(ErrUnprocessable, "address_limit", "Você só pode ter no máximo 2 endereços cadastrados")

	ErrCNPJInvalid      = defineError(ErrInvalidInput, "invalid_cnpj", "CNPJ deve ter 14 dígitos")
	ErrCNPJNotFound     = defineError(ErrNotFound, "cnpj_not_found", "CNPJ não encontrado")
	ErrCNPJLookupFailed = defineError(ErrUnavailable, "cnpj_lookup_failed", "Erro ao buscar CNPJ")

	ErrCatalogInvalidInput = defineError(ErrInvalidInput, "invalid_catalog_item", "Dados do item inválidos")
	ErrCatalogNotFound     = defineError(ErrNotFound, "not_found", "Registro não encontrado.")
	ErrCatalogForbidden    = defineError(ErrForbidden, "forbidden", "Você não tem permissão para realizar esta ação.")
	ErrServiceCodeConflict = defineError(ErrConflict, "service_code_conflict", "Não foi possível gerar um código único para o serviço")

	ErrImageInvalid  = defineError(ErrInvalidInput, "invalid_image", "Imagem inválida. Envie um arquivo JPEG ou PNG")
	ErrImageTooLarge = defineError(ErrInvalidInput, "image_too_large", "A imagem deve ter no máximo 10 MB")
	ErrUploadFailed  = defineError(ErrUnavailable, "upload_failed", "Erro ao enviar imagem")

	ErrPartnerForbidden   = defineError(ErrForbidden, "partner_forbidden", "Você não gerencia este parceiro")
	ErrOAuthMissingCode   = defineError(ErrInvalidInput, "missing_code", "Código de autorização ausente")
	ErrOAuthInvalidState  = defineError(ErrInvalidInput, "invalid_state", "Sessão de conexão inválida ou expirada")
	ErrOAuthExchange      = defineError(ErrUnavailable, "exchange_failed", "Erro ao conectar com o Mercado Pago")
	ErrOAuthSave          = defineError(ErrUnavailable, "save_failed", "Erro ao salvar credenciais de pagamento")
	ErrOAuthNotConfigured = defineError(ErrUnavailable, "oauth_not_configured", "Integração de pagamentos indisponível")
)

// invalid joins a sentinel with the field-level validation failure so callers
// can surface either.
func invalid(sentinel error, err error) error {
	if verr, ok := validation.AsError(err); ok {
		return fmt.Errorf("%w: %w", sentinel, verr)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func violatedConstraint(err error) string {
	var cerr repositories.ConstraintError
	if errors.As(err, &cerr) {
		return cerr.Constraint()
	}
	return ""
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func noopLogger(context.Context, string, map[string]any) {}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}
