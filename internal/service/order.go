package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/storage"
	"github.com/shopspring/decimal"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

// OrderCache - кеш чтения заказов. Любая запись заказа инвалидирует его ключ.
// Invalidate получает заказ после коммита: Set более старой версии после этого игнорируется.
type OrderCache interface {
	Get(ctx context.Context, id int64) (*models.Order, bool, error)
	Set(ctx context.Context, order *models.Order) error
	Invalidate(ctx context.Context, committed *models.Order) error
}

type CreateOrderInput struct {
	Items          []models.LineItemRequest
	PaymentMethod  models.PaymentMethod
	Customer       models.Customer
	ResellerMargin decimal.Decimal
}

type PaymentProofInput struct {
	TransactionRef string
	ProofURL       string
}

type ShipmentInput struct {
	LabelURL       string
	TrackingNumber string
}

type OrderServiceInterface interface {
	CreateOrder(ctx context.Context, actor models.Actor, in CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, actor models.Actor, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, actor models.Actor, filter models.OrderFilter) ([]*models.Order, error)
	UploadPaymentProof(ctx context.Context, actor models.Actor, id int64, in PaymentProofInput) (*models.Order, error)
	VerifyPayment(ctx context.Context, actor models.Actor, id int64) (*models.Order, error)
	SelectShippingMethod(ctx context.Context, actor models.Actor, id int64, method models.ShippingMethod) (*models.Order, error)
	UpdateShippingFee(ctx context.Context, actor models.Actor, id int64, fee decimal.Decimal) (*models.Order, error)
	MarkShipped(ctx context.Context, actor models.Actor, id int64, in ShipmentInput) (*models.Order, error)
	MarkDelivered(ctx context.Context, actor models.Actor, id int64) (*models.Order, error)
}

type OrderService struct {
	log        *slog.Logger
	orders     storage.OrderStorage
	users      storage.UserStorage
	engine     *ReservationEngine
	cache      OrderCache
	dispatcher Dispatcher
	now        func() time.Time
}

func NewOrderService(
	log *slog.Logger,
	orders storage.OrderStorage,
	users storage.UserStorage,
	engine *ReservationEngine,
	cache OrderCache,
	dispatcher Dispatcher,
) *OrderService {
	return &OrderService{
		log:        log,
		orders:     orders,
		users:      users,
		engine:     engine,
		cache:      cache,
		dispatcher: dispatcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder резервирует позиции, фиксирует цены и сохраняет заказ.
// Если сохранить не удалось, резерв возвращается до выхода из метода.
func (s *OrderService) CreateOrder(ctx context.Context, actor models.Actor, in CreateOrderInput) (*models.Order, error) {
	const op = "service.OrderService.CreateOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("resellerID", actor.UserID))

	if actor.Role != models.RoleReseller {
		return nil, fmt.Errorf("%s: only resellers place orders: %w", op, models.ErrUnauthorized)
	}
	if err := validateCreateInput(in); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reseller, err := s.users.GetUserByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: reseller %d: %w", op, actor.UserID, models.ErrNotFound)
		}
		logger.Error("failed to get reseller", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get reseller: %w", op, err)
	}

	reservationID := uuid.NewString()
	items, err := s.engine.Reserve(ctx, reservationID, reseller.Tier, in.Items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	order := buildOrder(actor.UserID, items, in, s.now())
	created, err := s.orders.CreateOrder(ctx, order, reservationID)
	if err != nil {
		logger.Error("failed to persist order, releasing reservation", slog.String("reservationID", reservationID), slog.Any("error", err))
		s.engine.Release(ctx, reservationID, items)
		return nil, fmt.Errorf("%s: failed to persist order: %w", op, err)
	}

	logger.Info("order placed",
		slog.Int64("orderID", created.ID),
		slog.String("status", string(created.Status)),
		slog.String("total", created.TotalAmount.String()),
	)
	s.dispatcher.Dispatch(ctx, models.EventOrderPlaced, created, actor)
	return created, nil
}

func validateCreateInput(in CreateOrderInput) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("order has no items: %w", models.ErrValidation)
	}
	seen := make(map[int64]struct{}, len(in.Items))
	for _, item := range in.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("product %d: quantity must be at least 1: %w", item.ProductID, models.ErrValidation)
		}
		if _, ok := seen[item.ProductID]; ok {
			return fmt.Errorf("product %d is listed twice: %w", item.ProductID, models.ErrValidation)
		}
		seen[item.ProductID] = struct{}{}
	}
	switch in.PaymentMethod {
	case models.PaymentCOD, models.PaymentPrepaid, models.PaymentPayLater:
	default:
		return fmt.Errorf("unknown payment method %q: %w", in.PaymentMethod, models.ErrValidation)
	}
	return nil
}

// buildOrder считает суммы и начальный статус. COD подтверждается сразу
func buildOrder(resellerID int64, items []models.OrderItem, in CreateOrderInput, now time.Time) *models.Order {
	itemsTotal := decimal.Zero
	shippingFee := decimal.Zero
	for _, item := range items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		itemsTotal = itemsTotal.Add(item.UnitPrice.Mul(qty))
		shippingFee = shippingFee.Add(item.ShippingFeePerUnit.Mul(qty))
	}

	order := &models.Order{
		ResellerID:     resellerID,
		Items:          items,
		ItemsTotal:     itemsTotal,
		ShippingFee:    shippingFee,
		TotalAmount:    itemsTotal.Add(shippingFee),
		ResellerMargin: in.ResellerMargin,
		Payment:        models.PaymentDetails{Method: in.PaymentMethod},
		Customer:       in.Customer,
		Status:         models.StatusPaymentVerificationPending,
	}
	if in.PaymentMethod == models.PaymentCOD {
		order.Status = models.StatusPaymentConfirmed
		order.Payment.IsVerified = true
		order.Payment.VerifiedAt = &now
	}
	return order
}

// GetOrder читает заказ через кеш. Чужой заказ реселлеру не виден.
func (s *OrderService) GetOrder(ctx context.Context, actor models.Actor, id int64) (*models.Order, error) {
	const op = "service.OrderService.GetOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", id))

	order, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		logger.Warn("order cache read failed", slog.Any("error", err))
	}
	if !ok {
		order, err = s.load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := s.cache.Set(ctx, order); err != nil {
			logger.Warn("order cache write failed", slog.Any("error", err))
		}
	}

	if !canRead(order, actor) {
		return nil, fmt.Errorf("%s: order %d: %w", op, id, models.ErrUnauthorized)
	}
	return order, nil
}

// ListOrders - реселлер всегда видит только свои заказы, фильтр по реселлеру доступен администраторам.
func (s *OrderService) ListOrders(ctx context.Context, actor models.Actor, filter models.OrderFilter) ([]*models.Order, error) {
	const op = "service.OrderService.ListOrders"

	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%s: unknown status %q: %w", op, *filter.Status, models.ErrValidation)
	}
	if !actor.IsAdmin() {
		own := actor.UserID
		filter.ResellerID = &own
	}
	filter.Page, filter.Limit = NormalizePage(filter.Page, filter.Limit)

	orders, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		s.log.Error("failed to list orders", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list orders: %w", op, err)
	}
	return orders, nil
}

// NormalizePage: страница с 1, лимит по умолчанию 20 и не больше 100
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func (s *OrderService) UploadPaymentProof(ctx context.Context, actor models.Actor, id int64, in PaymentProofInput) (*models.Order, error) {
	if in.ProofURL == "" {
		return nil, fmt.Errorf("service.OrderService.UploadPaymentProof: proof url is required: %w", models.ErrValidation)
	}
	return s.transition(ctx, actor, id, opUploadPaymentProof, models.EventPaymentProofUploaded, func(o *models.Order) error {
		if o.Payment.Method == models.PaymentCOD {
			return fmt.Errorf("cash on delivery orders take no payment proof: %w", models.ErrInvalidTransition)
		}
		o.Payment.ProofURL = in.ProofURL
		o.Payment.TransactionRef = in.TransactionRef
		o.Status = models.StatusPaymentVerificationPending
		return nil
	})
}

// VerifyPayment подтверждает оплату. Повторное подтверждение отклоняется как недопустимый переход.
func (s *OrderService) VerifyPayment(ctx context.Context, actor models.Actor, id int64) (*models.Order, error) {
	return s.transition(ctx, actor, id, opVerifyPayment, models.EventPaymentConfirmed, func(o *models.Order) error {
		now := s.now()
		verifier := actor.UserID
		o.Payment.IsVerified = true
		o.Payment.VerifiedBy = &verifier
		o.Payment.VerifiedAt = &now
		o.Status = models.StatusPaymentConfirmed
		return nil
	})
}

// SelectShippingMethod допустим только в payment_confirmed. COD отправляется только самим реселлером
func (s *OrderService) SelectShippingMethod(ctx context.Context, actor models.Actor, id int64, method models.ShippingMethod) (*models.Order, error) {
	if method != models.ShippingSelf && method != models.ShippingPlatform {
		return nil, fmt.Errorf("service.OrderService.SelectShippingMethod: unknown shipping method %q: %w", method, models.ErrValidation)
	}
	return s.transition(ctx, actor, id, opSelectShippingMethod, models.EventReadyForDispatch, func(o *models.Order) error {
		if o.Payment.Method == models.PaymentCOD && method == models.ShippingPlatform {
			return fmt.Errorf("cash on delivery orders are self-shipped only: %w", models.ErrInvalidTransition)
		}
		o.ShippingMethod = method
		o.Status = models.StatusReadyForDispatch
		return nil
	})
}

// UpdateShippingFee заменяет стоимость доставки и пересчитывает итог от зафиксированных цен позиций.
func (s *OrderService) UpdateShippingFee(ctx context.Context, actor models.Actor, id int64, fee decimal.Decimal) (*models.Order, error) {
	if fee.IsNegative() {
		return nil, fmt.Errorf("service.OrderService.UpdateShippingFee: negative shipping fee: %w", models.ErrValidation)
	}
	return s.transition(ctx, actor, id, opUpdateShippingFee, models.EventShippingFeeUpdated, func(o *models.Order) error {
		itemsTotal := decimal.Zero
		for _, item := range o.Items {
			itemsTotal = itemsTotal.Add(item.Cost())
		}
		o.ItemsTotal = itemsTotal
		o.ShippingFee = fee
		o.TotalAmount = itemsTotal.Add(fee)
		if o.Status == models.StatusPendingShippingCalc {
			o.Status = models.StatusPendingPayment
		}
		return nil
	})
}

// MarkShipped: реселлер отправляет сам и обязан приложить этикетку, администратор отправляет силами платформы.
func (s *OrderService) MarkShipped(ctx context.Context, actor models.Actor, id int64, in ShipmentInput) (*models.Order, error) {
	if !actor.IsAdmin() && in.LabelURL == "" {
		return nil, fmt.Errorf("service.OrderService.MarkShipped: shipping label is required: %w", models.ErrValidation)
	}
	return s.transition(ctx, actor, id, opMarkShipped, models.EventShipped, func(o *models.Order) error {
		if actor.IsAdmin() {
			if o.ShippingMethod == models.ShippingUnset {
				o.ShippingMethod = models.ShippingPlatform
				if o.Payment.Method == models.PaymentCOD {
					o.ShippingMethod = models.ShippingSelf
				}
			}
		} else {
			if o.ShippingMethod == models.ShippingPlatform {
				return fmt.Errorf("platform shipments are marked by an admin: %w", models.ErrInvalidTransition)
			}
			o.ShippingMethod = models.ShippingSelf
		}
		now := s.now()
		if in.LabelURL != "" {
			o.Shipping.LabelURL = in.LabelURL
		}
		if in.TrackingNumber != "" {
			o.Shipping.TrackingNumber = in.TrackingNumber
		}
		o.Shipping.ShippedAt = &now
		o.Status = models.StatusShipped
		return nil
	})
}

// MarkDelivered закрывает заказ и проставляет реселлеру дату последнего заказа.
func (s *OrderService) MarkDelivered(ctx context.Context, actor models.Actor, id int64) (*models.Order, error) {
	const op = "service.OrderService.MarkDelivered"

	var deliveredAt time.Time
	order, err := s.transition(ctx, actor, id, opMarkDelivered, models.EventDelivered, func(o *models.Order) error {
		deliveredAt = s.now()
		o.Shipping.DeliveredAt = &deliveredAt
		o.Status = models.StatusDelivered
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.users.SetLastOrderDate(context.WithoutCancel(ctx), order.ResellerID, deliveredAt); err != nil {
		s.log.Error("side effect failed",
			slog.String("op", op),
			slog.String("leg", "last_order_date"),
			slog.Int64("resellerID", order.ResellerID),
			slog.Any("error", err),
		)
	}
	return order, nil
}

// transition - общий путь всех изменений заказа: свежее чтение, проверка прав и статуса,
// запись с проверкой версии, сброс кеша и рассылка после коммита.
func (s *OrderService) transition(
	ctx context.Context,
	actor models.Actor,
	id int64,
	op operation,
	event models.EventType,
	mutate func(o *models.Order) error,
) (*models.Order, error) {
	opName := "service.OrderService." + string(op)
	logger := s.log.With(slog.String("op", opName), slog.Int64("orderID", id), slog.Int64("actorID", actor.UserID))

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opName, err)
	}
	if err := authorize(op, current, actor); err != nil {
		logger.Warn("operation rejected", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", opName, err)
	}
	if err := checkStatus(op, current); err != nil {
		logger.Info("operation rejected", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", opName, err)
	}

	updated := current.Clone()
	if err := mutate(updated); err != nil {
		logger.Info("operation rejected", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", opName, err)
	}

	if err := s.orders.UpdateOrder(ctx, updated); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			logger.Warn("concurrent update detected", slog.Int("version", current.Version))
			return nil, fmt.Errorf("%s: order %d changed concurrently: %w", opName, id, models.ErrInvalidTransition)
		}
		logger.Error("failed to update order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to update order: %w", opName, err)
	}

	// запрос мог быть отменен после коммита, кеш все равно сбрасываем
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), updated); err != nil {
		logger.Warn("order cache invalidation failed", slog.Any("error", err))
	}

	logger.Info("order updated",
		slog.String("from", string(current.Status)),
		slog.String("to", string(updated.Status)),
		slog.Int("version", updated.Version),
	)
	if event != "" {
		s.dispatcher.Dispatch(ctx, event, updated, actor)
	}
	return updated, nil
}

// load читает заказ из базы мимо кеша: охранные условия проверяются по актуальному статусу
func (s *OrderService) load(ctx context.Context, id int64) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}
