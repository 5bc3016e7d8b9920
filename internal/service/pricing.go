package service

import (
	"fmt"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/shopspring/decimal"
)

// ResolveUnitPrice выбирает цену товара для уровня подписки реселлера.
// paid: paidTierPrice -> freeTierPrice -> basePrice; free: freeTierPrice -> basePrice.
// Нулевая или отрицательная итоговая цена - ошибка целостности каталога.
func ResolveUnitPrice(product *models.Product, tier models.Tier) (decimal.Decimal, error) {
	var price decimal.Decimal
	switch {
	case tier == models.TierPaid && product.PaidTierPrice.IsPositive():
		price = product.PaidTierPrice
	case product.FreeTierPrice.IsPositive():
		price = product.FreeTierPrice
	default:
		price = product.BasePrice
	}

	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("product %d has no positive price for tier %q", product.ID, tier)
	}
	return price, nil
}
