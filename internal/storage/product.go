package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/linemk/reseller-shop/internal/domain/models"
)

// CatalogStorage - доступ к остаткам и ценам каталога.
// Остаток уменьшается только через DecrementIfAvailable и возвращается только через Release.
type CatalogStorage interface {
	// GetProduct возвращает товар с ценами и текущим остатком.
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	// DecrementIfAvailable атомарно списывает qty, если остаток >= qty, и пишет строку журнала резерва.
	DecrementIfAvailable(ctx context.Context, reservationID string, productID int64, qty int) (*models.Product, error)
	// Release возвращает остаток по строке журнала. Повторный вызов ничего не делает.
	Release(ctx context.Context, reservationID string, productID int64) error
	// ListStaleReservations возвращает строки журнала, созданные раньше before.
	ListStaleReservations(ctx context.Context, before time.Time) ([]models.Reservation, error)
}

// catalogRepository - конкретная реализация интерфейса CatalogStorage.
type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт новый репозиторий каталога.
func NewCatalogRepository(db *sql.DB) CatalogStorage {
	return &catalogRepository{db: db}
}

var ErrProductNotFound = errors.New("product not found")

const productColumns = "id, name, available_stock, base_price, free_tier_price, paid_tier_price, shipping_fee_per_unit"

func scanProduct(row interface{ Scan(dest ...any) error }) (*models.Product, error) {
	p := &models.Product{}
	err := row.Scan(&p.ID, &p.Name, &p.AvailableStock, &p.BasePrice, &p.FreeTierPrice, &p.PaidTierPrice, &p.ShippingFeePerUnit)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *catalogRepository) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

// списание и запись в журнал выполняются одним выражением, поэтому списания без строки журнала не бывает
const decrementQuery = `
	WITH reserved AS (
		UPDATE products SET available_stock = available_stock - $3
		WHERE id = $2 AND available_stock >= $3
		RETURNING ` + productColumns + `
	), journal AS (
		INSERT INTO stock_reservations (reservation_id, product_id, quantity)
		SELECT $1, id, $3 FROM reserved
	)
	SELECT ` + productColumns + ` FROM reserved`

// DecrementIfAvailable возвращает снимок товара после списания.
// Если товара нет - ErrProductNotFound, если остатка мало - *models.InsufficientStockError.
func (r *catalogRepository) DecrementIfAvailable(ctx context.Context, reservationID string, productID int64, qty int) (*models.Product, error) {
	row := r.db.QueryRowContext(ctx, decrementQuery, reservationID, productID, qty)
	p, err := scanProduct(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to decrement stock: %w", err)
	}

	// строка не обновилась - выясняем причину
	var available int
	err = r.db.QueryRowContext(ctx, "SELECT available_stock FROM products WHERE id = $1", productID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return nil, &models.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func (r *catalogRepository) Release(ctx context.Context, reservationID string, productID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var qty int
	err = tx.QueryRowContext(ctx,
		"DELETE FROM stock_reservations WHERE reservation_id = $1 AND product_id = $2 RETURNING quantity",
		reservationID, productID,
	).Scan(&qty)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			// уже освобождено или закреплено заказом
			return nil
		}
		return fmt.Errorf("failed to delete reservation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE products SET available_stock = available_stock + $1 WHERE id = $2", qty, productID,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to restore stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *catalogRepository) ListStaleReservations(ctx context.Context, before time.Time) ([]models.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT reservation_id, product_id, quantity FROM stock_reservations WHERE created_at < $1 ORDER BY created_at",
		before,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		var res models.Reservation
		if err := rows.Scan(&res.ReservationID, &res.ProductID, &res.Quantity); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
