package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var fieldLabels = map[string]string{
	"buyer_id":            "Comprador",
	"partner_id":          "Parceiro",
	"item_kind":           "Tipo do item",
	"item_id":             "Item",
	"quantity":            "Quantidade",
	"total_amount":        "Valor total",
	"delivery_type":       "Tipo de entrega",
	"delivery_address_id": "Endereço de entrega",
	"payment_method":      "Forma de pagamento",
	"notes":               "Observações",
	"additional_items":    "Itens adicionais",
	"label":               "Identificação",
	"recipient":           "Destinatário",
	"street":              "Rua",
	"number":              "Número",
	"complement":          "Complemento",
	"district":            "Bairro",
	"city":                "Cidade",
	"state":               "UF",
	"postal_code":         "CEP",
	"phone":               "Telefone",
	"kind":                "Tipo",
	"name":                "Nome",
	"description":         "Descrição",
	"price":               "Preço",
	"stock":               "Estoque",
	"duration_minutes":    "Duração",
	"document":            "Documento",
	"email":               "E-mail",
	"product_id":          "Produto",
	"type":                "Tipo de movimentação",
	"reason":              "Motivo",
}

func fromFieldError(fe validator.FieldError) *Error {
	field := fe.Field()
	label, ok := fieldLabels[field]
	if !ok {
		label = field
	}
	return &Error{Field: field, Message: messageFor(fe, label)}
}

func messageFor(fe validator.FieldError, label string) string {
	isText := fe.Kind().String() == "string"
	switch fe.Tag() {
	case "required", "required_if":
		return label + " é obrigatório"
	case "min":
		if isText {
			return label + " deve ter pelo menos " + fe.Param() + " caracteres"
		}
		if fe.Kind().String() == "slice" {
			return label + " deve ter pelo menos " + fe.Param() + " itens"
		}
		return label + " deve ser no mínimo " + fe.Param()
	case "max":
		if isText {
			return label + " deve ter no máximo " + fe.Param() + " caracteres"
		}
		if fe.Kind().String() == "slice" {
			return label + " deve ter no máximo " + fe.Param() + " itens"
		}
		return label + " deve ser no máximo " + fe.Param()
	case "ne":
		return label + " não pode ser zero"
	case "uuid", "uuid4":
		return label + " inválido"
	case "oneof":
		return label + " deve ser um de: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "E-mail inválido"
	case "cnpj":
		return "CNPJ deve ter 14 dígitos"
	case "cep":
		return "CEP deve ter 8 dígitos"
	case "phone_br":
		return "Telefone deve ter 10 ou 11 dígitos"
	case "document_br":
		return "Documento deve ser um CPF (11 dígitos) ou CNPJ (14 dígitos)"
	case "uf":
		return "UF inválida"
	default:
		return label + " inválido"
	}
}
