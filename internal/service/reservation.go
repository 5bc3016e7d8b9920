package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/storage"
)

// ReservationEngine списывает остатки по позициям и откатывает уже списанное при любой ошибке.
type ReservationEngine struct {
	log     *slog.Logger
	catalog storage.CatalogStorage
}

func NewReservationEngine(log *slog.Logger, catalog storage.CatalogStorage) *ReservationEngine {
	return &ReservationEngine{log: log, catalog: catalog}
}

// Reserve обрабатывает позиции по порядку запроса. Результат - позиции заказа с зафиксированными ценами.
// При ошибке на k-й позиции остатки позиций 1..k-1 возвращаются до выхода из метода.
func (e *ReservationEngine) Reserve(ctx context.Context, reservationID string, tier models.Tier, items []models.LineItemRequest) ([]models.OrderItem, error) {
	const op = "service.ReservationEngine.Reserve"
	logger := e.log.With(slog.String("op", op), slog.String("reservationID", reservationID))

	committed := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		product, err := e.catalog.DecrementIfAvailable(ctx, reservationID, item.ProductID, item.Quantity)
		if err != nil {
			logger.Warn("reservation failed", slog.Int64("productID", item.ProductID), slog.Any("error", err))
			e.Release(ctx, reservationID, committed)
			if errors.Is(err, storage.ErrProductNotFound) {
				return nil, fmt.Errorf("%s: product %d: %w", op, item.ProductID, models.ErrNotFound)
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		// товар уже списан, поэтому он попадает в список до проверки цены
		line := models.OrderItem{
			ProductID:          product.ID,
			ProductName:        product.Name,
			Quantity:           item.Quantity,
			ShippingFeePerUnit: product.ShippingFeePerUnit,
		}
		committed = append(committed, line)

		price, err := ResolveUnitPrice(product, tier)
		if err != nil {
			logger.Error("catalog data integrity error", slog.Any("error", err))
			e.Release(ctx, reservationID, committed)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		committed[len(committed)-1].UnitPrice = price
	}

	logger.Debug("items reserved", slog.Int("count", len(committed)))
	return committed, nil
}

// Release возвращает остатки по всем переданным позициям резерва.
// Ошибки не прерывают цикл: невозвращенные строки журнала позже подберет SweepStale.
func (e *ReservationEngine) Release(ctx context.Context, reservationID string, items []models.OrderItem) {
	const op = "service.ReservationEngine.Release"
	logger := e.log.With(slog.String("op", op), slog.String("reservationID", reservationID))

	// компенсация должна отработать даже если запрос уже отменен
	ctx = context.WithoutCancel(ctx)
	for _, item := range items {
		if err := e.catalog.Release(ctx, reservationID, item.ProductID); err != nil {
			logger.Error("failed to release reservation", slog.Int64("productID", item.ProductID), slog.Any("error", err))
		}
	}
}

// SweepStale возвращает остатки по строкам журнала старше staleAfter.
// Такие строки остаются, если процесс упал между списанием и сохранением заказа.
func (e *ReservationEngine) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	const op = "service.ReservationEngine.SweepStale"
	logger := e.log.With(slog.String("op", op))

	stale, err := e.catalog.ListStaleReservations(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("%s: failed to list stale reservations: %w", op, err)
	}

	released := 0
	for _, r := range stale {
		if err := e.catalog.Release(ctx, r.ReservationID, r.ProductID); err != nil {
			logger.Error("failed to release stale reservation",
				slog.String("reservationID", r.ReservationID),
				slog.Int64("productID", r.ProductID),
				slog.Any("error", err),
			)
			continue
		}
		released++
	}
	if released > 0 {
		logger.Info("stale reservations released", slog.Int("count", released))
	}
	return released, nil
}

// RunSweeper периодически вызывает SweepStale до отмены ctx.
func (e *ReservationEngine) RunSweeper(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepStale(ctx, staleAfter); err != nil {
				e.log.Error("sweeper iteration failed", slog.Any("error", err))
			}
		}
	}
}
