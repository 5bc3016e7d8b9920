package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/shopspring/decimal"
)

// Envelope - конверт события в топике заказов, версия 1
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // id заказа
	Payload       json.RawMessage `json:"payload"`
}

// OrderPayload - срез заказа для потребителей статистики и выгрузок
type OrderPayload struct {
	OrderID        int64                 `json:"order_id"`
	ResellerID     int64                 `json:"reseller_id"`
	Status         models.OrderStatus    `json:"status"`
	PaymentMethod  models.PaymentMethod  `json:"payment_method"`
	ShippingMethod models.ShippingMethod `json:"shipping_method,omitempty"`
	ItemsTotal     decimal.Decimal       `json:"items_total"`
	ShippingFee    decimal.Decimal       `json:"shipping_fee"`
	TotalAmount    decimal.Decimal       `json:"total_amount"`
	ResellerMargin decimal.Decimal       `json:"reseller_margin"`
	OrderVersion   int                   `json:"order_version"`
	ActorID        int64                 `json:"actor_id"`
	ActorRole      models.Role           `json:"actor_role"`
}

func NewOrderEnvelope(producer string, ev *models.Event) (Envelope, error) {
	o := ev.Order
	payload, err := json.Marshal(OrderPayload{
		OrderID:        o.ID,
		ResellerID:     o.ResellerID,
		Status:         o.Status,
		PaymentMethod:  o.Payment.Method,
		ShippingMethod: o.ShippingMethod,
		ItemsTotal:     o.ItemsTotal,
		ShippingFee:    o.ShippingFee,
		TotalAmount:    o.TotalAmount,
		ResellerMargin: o.ResellerMargin,
		OrderVersion:   o.Version,
		ActorID:        ev.ActorID,
		ActorRole:      ev.ActorRole,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	return Envelope{
		EventID:       ev.ID,
		EventType:     string(ev.Type),
		EventVersion:  ev.Version,
		OccurredAt:    ev.OccurredAt,
		Producer:      producer,
		CorrelationID: strconv.FormatInt(o.ID, 10),
		Payload:       payload,
	}, nil
}

// PartitionKey - все события одного заказа попадают в одну партицию и сохраняют порядок
func PartitionKey(orderID int64) []byte {
	return []byte(strconv.FormatInt(orderID, 10))
}
