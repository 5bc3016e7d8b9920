package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/linemk/reseller-shop/internal/domain/models"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrVersionConflict = errors.New("order was modified concurrently")
)

// OrderStorage описывает методы для работы с заказами.
type OrderStorage interface {
	// CreateOrder сохраняет заказ с позициями и закрепляет резерв reservationID в одной транзакции.
	CreateOrder(ctx context.Context, order *models.Order, reservationID string) (*models.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
	// UpdateOrder сохраняет изменяемые поля, если версия в базе совпадает с order.Version.
	UpdateOrder(ctx context.Context, order *models.Order) error
}

// orderRepository - конкретная реализация OrderStorage.
type orderRepository struct {
	db   *sql.DB
	psql sq.StatementBuilderType
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var orderColumns = []string{
	"id", "reseller_id", "status", "items_total", "shipping_fee", "total_amount", "reseller_margin",
	"payment_method", "payment_txn_ref", "payment_proof_url", "payment_verified", "payment_verified_by", "payment_verified_at",
	"shipping_method", "shipping_label_url", "tracking_number", "shipped_at", "delivered_at",
	"customer_name", "customer_phone", "customer_address", "version", "created_at", "updated_at",
}

func scanOrder(row interface{ Scan(dest ...any) error }) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID, &o.ResellerID, &o.Status, &o.ItemsTotal, &o.ShippingFee, &o.TotalAmount, &o.ResellerMargin,
		&o.Payment.Method, &o.Payment.TransactionRef, &o.Payment.ProofURL, &o.Payment.IsVerified, &o.Payment.VerifiedBy, &o.Payment.VerifiedAt,
		&o.ShippingMethod, &o.Shipping.LabelURL, &o.Shipping.TrackingNumber, &o.Shipping.ShippedAt, &o.Shipping.DeliveredAt,
		&o.Customer.Name, &o.Customer.Phone, &o.Customer.Address, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// CreateOrder вставляет заказ, его позиции и удаляет строки журнала резерва.
// После коммита остаток принадлежит заказу и фоновая очистка его не вернет.
func (r *orderRepository) CreateOrder(ctx context.Context, order *models.Order, reservationID string) (*models.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO orders (reseller_id, status, items_total, shipping_fee, total_amount, reseller_margin,
		payment_method, payment_verified, payment_verified_at, customer_name, customer_phone, customer_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, version, created_at, updated_at`
	err = tx.QueryRowContext(ctx, query,
		order.ResellerID, order.Status, order.ItemsTotal, order.ShippingFee, order.TotalAmount, order.ResellerMargin,
		order.Payment.Method, order.Payment.IsVerified, order.Payment.VerifiedAt,
		order.Customer.Name, order.Customer.Phone, order.Customer.Address,
	).Scan(&order.ID, &order.Version, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, line_no, product_id, product_name, quantity, unit_price, shipping_fee_per_unit)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.ShippingFeePerUnit,
		)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM stock_reservations WHERE reservation_id = $1", reservationID); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	query, args, err := r.psql.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if err := r.loadItems(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders возвращает страницу заказов, новые первыми.
func (r *orderRepository) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	builder := r.psql.Select(orderColumns...).From("orders")
	if filter.ResellerID != nil {
		builder = builder.Where(sq.Eq{"reseller_id": *filter.ResellerID})
	}
	if filter.Status != nil {
		builder = builder.Where(sq.Eq{"status": *filter.Status})
	}
	builder = builder.OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64((filter.Page - 1) * filter.Limit))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0, filter.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadItems подгружает позиции одним запросом для всех заказов
func (r *orderRepository) loadItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Items = []models.OrderItem{}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, product_id, product_name, quantity, unit_price, shipping_fee_per_unit
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var item models.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.ShippingFeePerUnit); err != nil {
			return err
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

// UpdateOrder - оптимистичная блокировка по version. Позиции заказа не изменяются.
func (r *orderRepository) UpdateOrder(ctx context.Context, order *models.Order) error {
	query, args, err := r.psql.Update("orders").
		Set("status", order.Status).
		Set("shipping_fee", order.ShippingFee).
		Set("total_amount", order.TotalAmount).
		Set("payment_txn_ref", order.Payment.TransactionRef).
		Set("payment_proof_url", order.Payment.ProofURL).
		Set("payment_verified", order.Payment.IsVerified).
		Set("payment_verified_by", order.Payment.VerifiedBy).
		Set("payment_verified_at", order.Payment.VerifiedAt).
		Set("shipping_method", order.ShippingMethod).
		Set("shipping_label_url", order.Shipping.LabelURL).
		Set("tracking_number", order.Shipping.TrackingNumber).
		Set("shipped_at", order.Shipping.ShippedAt).
		Set("delivered_at", order.Shipping.DeliveredAt).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": order.ID, "version": order.Version}).
		Suffix("RETURNING version, updated_at").
		ToSql()
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&order.Version, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}
