package validation

import (
	"strings"
	"testing"
)

const (
	testPartnerID = "3f1f6c1e-0d5e-4a7b-9a57-0b1c2d3e4f50"
	testItemID    = "8a9b0c1d-2e3f-4a5b-8c7d-9e0f1a2b3c4d"
	testAddressID = "0b1c2d3e-4f50-4a7b-9a57-3f1f6c1e0d5e"
)

func validOrder() OrderInput {
	return OrderInput{
		BuyerID:           "user-1",
		PartnerID:         testPartnerID,
		ItemKind:          "product",
		ItemID:            testItemID,
		Quantity:          2,
		TotalAmount:       5000,
		DeliveryType:      "delivery",
		DeliveryAddressID: testAddressID,
		PaymentMethod:     "pix",
		Notes:             "  entregar <b>após</b> 18h  ",
	}
}

func TestValidateOrderAcceptsAndSanitises(t *testing.T) {
	got, err := ValidateOrder(validOrder())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Notes != "entregar após 18h" {
		t.Fatalf("expected notes sanitised, got %q", got.Notes)
	}
}

func TestValidateOrderReportsFirstViolation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*OrderInput)
		field  string
	}{
		{"missing partner", func(in *OrderInput) { in.PartnerID = "" }, "partner_id"},
		{"partner not uuid", func(in *OrderInput) { in.PartnerID = "abc" }, "partner_id"},
		{"unknown kind", func(in *OrderInput) { in.ItemKind = "bundle" }, "item_kind"},
		{"zero quantity", func(in *OrderInput) { in.Quantity = 0 }, "quantity"},
		{"huge quantity", func(in *OrderInput) { in.Quantity = 1001 }, "quantity"},
		{"zero total", func(in *OrderInput) { in.TotalAmount = 0 }, "total_amount"},
		{"bad delivery type", func(in *OrderInput) { in.DeliveryType = "drone" }, "delivery_type"},
		{"delivery without address", func(in *OrderInput) { in.DeliveryAddressID = "" }, "delivery_address_id"},
		{"long notes", func(in *OrderInput) { in.Notes = strings.Repeat("a", 501) }, "notes"},
		{"bad extra line", func(in *OrderInput) {
			in.AdditionalItems = []LineInput{{ItemKind: "service", ItemID: "nope", Quantity: 1}}
		}, "item_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validOrder()
			tc.mutate(&in)
			_, err := ValidateOrder(in)
			verr, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%s)", tc.field, verr.Field, verr.Message)
			}
			if verr.Message == "" {
				t.Fatalf("expected message")
			}
		})
	}
}

func TestValidateOrderPickupDropsAddress(t *testing.T) {
	in := validOrder()
	in.DeliveryType = "pickup"
	got, err := ValidateOrder(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DeliveryAddressID != "" {
		t.Fatalf("expected address dropped for pickup")
	}
}

func TestValidateAddressNormalises(t *testing.T) {
	got, err := ValidateAddress(AddressInput{
		Recipient:  "Maria Silva",
		Street:     "Rua das Flores",
		Number:     "10",
		District:   "Centro",
		City:       "Curitiba",
		State:      "pr",
		PostalCode: "80.010-000",
		Phone:      "+55 (41) 99999-0000",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != "PR" || got.PostalCode != "80010000" || got.Phone != "41999990000" {
		t.Fatalf("unexpected normalisation: %+v", got)
	}
}

func TestValidateAddressRejectsBadStateAndCEP(t *testing.T) {
	base := AddressInput{Recipient: "Ana", Street: "Rua A", Number: "1", District: "Centro", City: "Natal", State: "RN", PostalCode: "59000000"}

	in := base
	in.State = "XX"
	if _, err := ValidateAddress(in); err == nil || err.(*Error).Message != "UF inválida" {
		t.Fatalf("expected UF error, got %v", err)
	}

	in = base
	in.PostalCode = "5900"
	if _, err := ValidateAddress(in); err == nil || err.(*Error).Message != "CEP deve ter 8 dígitos" {
		t.Fatalf("expected CEP error, got %v", err)
	}
}

func TestNormalizeCNPJ(t *testing.T) {
	got, err := NormalizeCNPJ("12.345.678/0001-95")
	if err != nil || got != "12345678000195" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if _, err := NormalizeCNPJ("1234567800019"); err == nil || err.(*Error).Message != "CNPJ deve ter 14 dígitos" {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	if got, err := NormalizePhone("(11) 3333-4444"); err != nil || got != "1133334444" {
		t.Fatalf("unexpected landline result %q %v", got, err)
	}
	if _, err := NormalizePhone("12345"); err == nil {
		t.Fatalf("expected error for short phone")
	}
}

func TestValidateProductDropsStockForUntracked(t *testing.T) {
	got, err := ValidateProduct(ProductInput{Kind: "space", Name: "Salão", Price: 10000, TrackStock: true, Stock: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TrackStock || got.Stock != 0 {
		t.Fatalf("spaces cannot track stock: %+v", got)
	}
}

func TestValidateServiceDuration(t *testing.T) {
	if _, err := ValidateService(ServiceInput{Name: "Corte", Price: 3000, DurationMinutes: 1441}); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestValidateContactDocument(t *testing.T) {
	got, err := ValidateContact(ContactInput{Kind: "supplier", Name: "Fornecedor LTDA", Document: "12.345.678/0001-95", Email: " Vendas@Exemplo.com "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Document != "12345678000195" || got.Email != "vendas@exemplo.com" {
		t.Fatalf("unexpected normalisation: %+v", got)
	}
	if _, err := ValidateContact(ContactInput{Kind: "customer", Name: "Zé", Document: "123"}); err == nil {
		t.Fatalf("expected document error")
	}
}

func TestValidateStockAdjustmentRejectsZero(t *testing.T) {
	_, err := ValidateStockAdjustment(StockAdjustmentInput{ProductID: testItemID, Type: "purchase", Quantity: 0})
	verr, ok := AsError(err)
	if !ok || verr.Field != "quantity" {
		t.Fatalf("expected quantity error, got %v", err)
	}
}
