// Package events publishes domain events (order lifecycle, stock alerts) to the
// configured broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TypeOrderCreated   = "order.created"
	TypeOrderPaid      = "order.paid"
	TypeOrderCancelled = "order.cancelled"
	TypeStockAlert     = "stock.alert"
)

const envelopeVersion = 1

// Envelope is the wire format shared by every driver.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher delivers envelopes. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// NewEnvelope encodes payload and stamps a fresh ULID event id.
func NewEnvelope(eventType, producer, correlationID string, payload any, now time.Time) (Envelope, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: event type is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode %s payload: %w", eventType, err)
	}
	if now.IsZero() {
		now = time.Now()
	}
	return Envelope{
		EventID:       ulid.Make().String(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    now.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Decode unmarshals an envelope payload into T.
func Decode[T any](env Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("events: decode %s payload: %w", env.EventType, err)
	}
	return out, nil
}

// OrderPayload is carried by order.created, order.paid and order.cancelled.
type OrderPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	PartnerID   string `json:"partner_id"`
	BuyerID     string `json:"buyer_id"`
	Situation   string `json:"situation"`
	TotalCents  int64  `json:"total_cents"`
	Currency    string `json:"currency"`
	PaymentID   string `json:"payment_id,omitempty"`
	Source      string `json:"source,omitempty"`
}

// StockAlertDetail names an item whose counter could not absorb a sale.
type StockAlertDetail struct {
	ItemKind  string `json:"item_kind"`
	ItemID    string `json:"item_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// StockAlertPayload is emitted when a paid order could not be applied to stock.
type StockAlertPayload struct {
	OrderID   string             `json:"order_id"`
	PartnerID string             `json:"partner_id"`
	Reason    string             `json:"reason"`
	Details   []StockAlertDetail `json:"details,omitempty"`
}
