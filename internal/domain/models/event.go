package models

import "time"

// EventType - событие жизненного цикла заказа
type EventType string

const (
	EventOrderPlaced          EventType = "order_placed"
	EventPaymentProofUploaded EventType = "payment_proof_uploaded"
	EventPaymentConfirmed     EventType = "payment_confirmed"
	EventReadyForDispatch     EventType = "ready_for_dispatch"
	EventShippingFeeUpdated   EventType = "shipping_fee_updated"
	EventShipped              EventType = "shipped"
	EventDelivered            EventType = "delivered"
)

// Event - конверт события, уходит в realtime канал и в поток событий
type Event struct {
	ID         string    `json:"event_id"`
	Type       EventType `json:"event_type"`
	Version    int       `json:"event_version"`
	OccurredAt time.Time `json:"occurred_at"`
	ActorID    int64     `json:"actor_id"`
	ActorRole  Role      `json:"actor_role"`
	Order      *Order    `json:"order"`
}
