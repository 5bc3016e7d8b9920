package models

import "github.com/shopspring/decimal"

// Product представляет позицию каталога, общую для всех реселлеров
type Product struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	AvailableStock     int             `json:"available_stock"`
	BasePrice          decimal.Decimal `json:"base_price"`
	FreeTierPrice      decimal.Decimal `json:"free_tier_price"`
	PaidTierPrice      decimal.Decimal `json:"paid_tier_price"`
	ShippingFeePerUnit decimal.Decimal `json:"shipping_fee_per_unit"`
}

// Reservation - строка журнала резервирования (списанный, но еще не закрепленный заказом остаток)
type Reservation struct {
	ReservationID string
	ProductID     int64
	Quantity      int
}
