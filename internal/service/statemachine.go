package service

import (
	"fmt"
	"slices"

	"github.com/linemk/reseller-shop/internal/domain/models"
)

// граф жизненного цикла заказа; cancelled определен, но ни одна операция в него пока не переводит
var validNext = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPendingShippingCalc:        {models.StatusPendingPayment, models.StatusPaymentVerificationPending, models.StatusCancelled},
	models.StatusPendingPayment:             {models.StatusPaymentVerificationPending, models.StatusCancelled},
	models.StatusPaymentVerificationPending: {models.StatusPaymentVerificationPending, models.StatusPaymentConfirmed, models.StatusCancelled},
	models.StatusPaymentConfirmed:           {models.StatusReadyForDispatch, models.StatusShipped, models.StatusCancelled},
	models.StatusReadyForDispatch:           {models.StatusShipped, models.StatusCancelled},
	models.StatusShipped:                    {models.StatusDelivered},
	models.StatusDelivered:                  {},
	models.StatusCancelled:                  {},
}

// CanTransition сообщает, есть ли в графе переход from -> to.
func CanTransition(from, to models.OrderStatus) bool {
	return slices.Contains(validNext[from], to)
}

type operation string

const (
	opUploadPaymentProof   operation = "upload_payment_proof"
	opVerifyPayment        operation = "verify_payment"
	opSelectShippingMethod operation = "select_shipping_method"
	opUpdateShippingFee    operation = "update_shipping_fee"
	opMarkShipped          operation = "mark_shipped"
	opMarkDelivered        operation = "mark_delivered"
)

// rule - охранное условие операции: из каких статусов, куда и кому разрешено.
// Пустой to означает, что операция не меняет статус.
type rule struct {
	from  []models.OrderStatus
	to    models.OrderStatus
	admin bool
	owner bool
}

var rules = map[operation]rule{
	opUploadPaymentProof: {
		from:  []models.OrderStatus{models.StatusPendingPayment, models.StatusPendingShippingCalc, models.StatusPaymentVerificationPending},
		to:    models.StatusPaymentVerificationPending,
		owner: true,
	},
	opVerifyPayment: {
		from:  []models.OrderStatus{models.StatusPaymentVerificationPending},
		to:    models.StatusPaymentConfirmed,
		admin: true,
	},
	opSelectShippingMethod: {
		from:  []models.OrderStatus{models.StatusPaymentConfirmed},
		to:    models.StatusReadyForDispatch,
		owner: true,
	},
	opUpdateShippingFee: {
		from: []models.OrderStatus{
			models.StatusPendingShippingCalc, models.StatusPendingPayment, models.StatusPaymentVerificationPending,
			models.StatusPaymentConfirmed, models.StatusReadyForDispatch,
		},
		admin: true,
	},
	opMarkShipped: {
		from:  []models.OrderStatus{models.StatusPaymentConfirmed, models.StatusReadyForDispatch},
		to:    models.StatusShipped,
		admin: true,
		owner: true,
	},
	opMarkDelivered: {
		from:  []models.OrderStatus{models.StatusShipped},
		to:    models.StatusDelivered,
		admin: true,
	},
}

// authorize проверяет роль и владение заказом
func authorize(op operation, order *models.Order, actor models.Actor) error {
	r := rules[op]
	if r.admin && actor.IsAdmin() {
		return nil
	}
	if r.owner && actor.Role == models.RoleReseller && order.ResellerID == actor.UserID {
		return nil
	}
	return fmt.Errorf("%s on order %d: %w", op, order.ID, models.ErrUnauthorized)
}

// checkStatus проверяет, что текущий статус допускает операцию
func checkStatus(op operation, order *models.Order) error {
	r := rules[op]
	if !slices.Contains(r.from, order.Status) {
		return fmt.Errorf("%s is not allowed in status %s: %w", op, order.Status, models.ErrInvalidTransition)
	}
	if r.to != "" && !CanTransition(order.Status, r.to) {
		return fmt.Errorf("%s -> %s: %w", order.Status, r.to, models.ErrInvalidTransition)
	}
	return nil
}

// canRead - заказ видят владелец и администраторы
func canRead(order *models.Order, actor models.Actor) bool {
	return actor.IsAdmin() || order.ResellerID == actor.UserID
}
