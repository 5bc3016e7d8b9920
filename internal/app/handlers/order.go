package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/service"
	"github.com/shopspring/decimal"
)

type LineItem struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gte=1"`
}

type CustomerRequest struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
	Address string `json:"address" validate:"required"`
}

// CreateOrderRequest - корзина реселлера. Маржа может быть отрицательной
type CreateOrderRequest struct {
	Items          []LineItem      `json:"items" validate:"required,min=1,dive"`
	PaymentMethod  string          `json:"payment_method" validate:"required,oneof=cod prepaid pay_later"`
	Customer       CustomerRequest `json:"customer"`
	ResellerMargin decimal.Decimal `json:"reseller_margin"`
}

type PaymentProofRequest struct {
	TransactionRef string `json:"transaction_ref" validate:"max=128"`
	ProofURL       string `json:"proof_url" validate:"required,url"`
}

type ShippingMethodRequest struct {
	ShippingMethod string `json:"shipping_method" validate:"required,oneof=self_ship platform_ship"`
}

type ShippingFeeRequest struct {
	ShippingFee *decimal.Decimal `json:"shipping_fee" validate:"required"`
}

type ShipRequest struct {
	LabelURL       string `json:"label_url" validate:"omitempty,url"`
	TrackingNumber string `json:"tracking_number" validate:"max=64"`
}

type OrderListResponse struct {
	Orders []*models.Order `json:"orders"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// CreateOrderHandler обрабатывает POST /api/orders
func CreateOrderHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateOrderHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		var req CreateOrderRequest
		if !decodeBody(w, r, logger, &req) {
			return
		}

		items := make([]models.LineItemRequest, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, models.LineItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		order, err := orders.CreateOrder(r.Context(), actor, service.CreateOrderInput{
			Items:          items,
			PaymentMethod:  models.PaymentMethod(req.PaymentMethod),
			Customer:       models.Customer(req.Customer),
			ResellerMargin: req.ResellerMargin,
		})
		if err != nil {
			writeError(w, logger, "failed to create order", err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, order)
	}
}

// GetOrderHandler обрабатывает GET /api/orders/{id}
func GetOrderHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetOrderHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}

		order, err := orders.GetOrder(r.Context(), actor, id)
		if err != nil {
			writeError(w, logger, "failed to get order", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// ListOrdersHandler обрабатывает GET /api/orders?status=&reseller_id=&page=&limit=
func ListOrdersHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListOrdersHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}

		var filter models.OrderFilter
		var err error
		if filter.Page, err = intQuery(r, "page"); err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		if filter.Limit, err = intQuery(r, "limit"); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if s := r.URL.Query().Get("status"); s != "" {
			status := models.OrderStatus(s)
			filter.Status = &status
		}
		if raw := r.URL.Query().Get("reseller_id"); raw != "" {
			resellerID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid reseller_id", http.StatusBadRequest)
				return
			}
			filter.ResellerID = &resellerID
		}

		list, err := orders.ListOrders(r.Context(), actor, filter)
		if err != nil {
			writeError(w, logger, "failed to list orders", err)
			return
		}
		page, limit := service.NormalizePage(filter.Page, filter.Limit)
		writeJSON(w, logger, http.StatusOK, OrderListResponse{Orders: list, Page: page, Limit: limit})
	}
}

// UploadPaymentProofHandler обрабатывает POST /api/orders/{id}/payment-proof
func UploadPaymentProofHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UploadPaymentProofHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}
		var req PaymentProofRequest
		if !decodeBody(w, r, logger, &req) {
			return
		}

		order, err := orders.UploadPaymentProof(r.Context(), actor, id, service.PaymentProofInput{
			TransactionRef: req.TransactionRef,
			ProofURL:       req.ProofURL,
		})
		if err != nil {
			writeError(w, logger, "failed to upload payment proof", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// VerifyPaymentHandler обрабатывает POST /api/orders/{id}/verify-payment (только админ)
func VerifyPaymentHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.VerifyPaymentHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}

		order, err := orders.VerifyPayment(r.Context(), actor, id)
		if err != nil {
			writeError(w, logger, "failed to verify payment", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// SelectShippingMethodHandler обрабатывает POST /api/orders/{id}/shipping-method
func SelectShippingMethodHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.SelectShippingMethodHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}
		var req ShippingMethodRequest
		if !decodeBody(w, r, logger, &req) {
			return
		}

		order, err := orders.SelectShippingMethod(r.Context(), actor, id, models.ShippingMethod(req.ShippingMethod))
		if err != nil {
			writeError(w, logger, "failed to select shipping method", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// UpdateShippingFeeHandler обрабатывает PUT /api/orders/{id}/shipping-fee (только админ)
func UpdateShippingFeeHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateShippingFeeHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}
		var req ShippingFeeRequest
		if !decodeBody(w, r, logger, &req) {
			return
		}

		order, err := orders.UpdateShippingFee(r.Context(), actor, id, *req.ShippingFee)
		if err != nil {
			writeError(w, logger, "failed to update shipping fee", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// MarkShippedHandler обрабатывает POST /api/orders/{id}/ship
func MarkShippedHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MarkShippedHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}
		// накладная и трек-номер необязательны, тело можно не передавать
		var req ShipRequest
		if !decodeOptionalBody(w, r, logger, &req) {
			return
		}

		order, err := orders.MarkShipped(r.Context(), actor, id, service.ShipmentInput{
			LabelURL:       req.LabelURL,
			TrackingNumber: req.TrackingNumber,
		})
		if err != nil {
			writeError(w, logger, "failed to mark order shipped", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// MarkDeliveredHandler обрабатывает POST /api/orders/{id}/deliver (только админ)
func MarkDeliveredHandler(log *slog.Logger, orders service.OrderServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MarkDeliveredHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}

		order, err := orders.MarkDelivered(r.Context(), actor, id)
		if err != nil {
			writeError(w, logger, "failed to mark order delivered", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}
