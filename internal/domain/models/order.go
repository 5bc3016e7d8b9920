package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus - статус заказа, определяет какие операции доступны
type OrderStatus string

const (
	StatusPendingPayment             OrderStatus = "pending_payment"
	StatusPendingShippingCalc        OrderStatus = "pending_shipping_calc"
	StatusPaymentVerificationPending OrderStatus = "payment_verification_pending"
	StatusPaymentConfirmed           OrderStatus = "payment_confirmed"
	StatusReadyForDispatch           OrderStatus = "ready_for_dispatch"
	StatusShipped                    OrderStatus = "shipped"
	StatusDelivered                  OrderStatus = "delivered"
	StatusCancelled                  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPendingShippingCalc, StatusPaymentVerificationPending,
		StatusPaymentConfirmed, StatusReadyForDispatch, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCOD      PaymentMethod = "cod"
	PaymentPrepaid  PaymentMethod = "prepaid"
	PaymentPayLater PaymentMethod = "pay_later"
)

type ShippingMethod string

const (
	ShippingUnset    ShippingMethod = ""
	ShippingSelf     ShippingMethod = "self_ship"
	ShippingPlatform ShippingMethod = "platform_ship"
)

// LineItemRequest - позиция корзины, пришедшая от реселлера
type LineItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderItem - позиция заказа. Цена фиксируется в момент создания и больше не пересчитывается
type OrderItem struct {
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	ShippingFeePerUnit decimal.Decimal `json:"shipping_fee_per_unit"`
}

// Cost возвращает стоимость позиции без доставки
func (i OrderItem) Cost() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// PaymentDetails - данные об оплате, принадлежат только заказу
type PaymentDetails struct {
	Method         PaymentMethod `json:"method"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
	ProofURL       string        `json:"proof_url,omitempty"`
	IsVerified     bool          `json:"is_verified"`
	VerifiedBy     *int64        `json:"verified_by,omitempty"`
	VerifiedAt     *time.Time    `json:"verified_at,omitempty"`
}

// Customer - конечный покупатель реселлера, куда везти заказ
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type ShippingDetails struct {
	LabelURL       string     `json:"label_url,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// Order - заказ реселлера
type Order struct {
	ID             int64           `json:"id"`
	ResellerID     int64           `json:"reseller_id"`
	Items          []OrderItem     `json:"items"`
	ItemsTotal     decimal.Decimal `json:"items_total"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ResellerMargin decimal.Decimal `json:"reseller_margin"`
	Payment        PaymentDetails  `json:"payment_details"`
	ShippingMethod ShippingMethod  `json:"shipping_method"`
	Shipping       ShippingDetails `json:"shipping"`
	Customer       Customer        `json:"customer"`
	Status         OrderStatus     `json:"order_status"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone возвращает копию заказа, чтобы мутации не затрагивали закешированный или сохраненный экземпляр
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return &c
}

// OrderFilter - параметры выборки списка заказов
type OrderFilter struct {
	ResellerID *int64
	Status     *OrderStatus
	Page       int
	Limit      int
}
