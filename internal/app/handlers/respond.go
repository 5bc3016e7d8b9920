package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/jwt-new/jwtmiddleware"
)

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// statusFor переводит ошибки сервиса в HTTP-статус и короткое сообщение для клиента
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict, "insufficient stock"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "invalid order state transition"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError отвечает статусом по типу ошибки. Полная цепочка ошибки остается в логе.
func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	status, public := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, slog.Any("error", err))
		http.Error(w, public, status)
		return
	}
	logger.Warn(msg, slog.Any("error", err), slog.Int("status", status))

	var stockErr *models.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, logger, status, map[string]any{
			"error":      public,
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
		return
	}
	http.Error(w, public, status)
}

// actorFrom достает пользователя, которого положил JWT middleware
func actorFrom(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (models.Actor, bool) {
	actor, ok := jwtmiddleware.FromContext(r.Context())
	if !ok {
		logger.Error("actor not found in context")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return actor, ok
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// intQuery читает необязательный целый параметр запроса
func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// decodeBody декодирует JSON и прогоняет валидатор
func decodeBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst any) bool {
	return decode(w, r, logger, dst, false)
}

// decodeOptionalBody то же самое, но пустое тело означает значения по умолчанию
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst any) bool {
	return decode(w, r, logger, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		logger.Warn("invalid request: decoding error", slog.Any("error", err))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		logger.Warn("invalid request: validation error", slog.Any("error", err))
		http.Error(w, "validation error: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
