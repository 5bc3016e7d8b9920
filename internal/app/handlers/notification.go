package handlers

import (
	"log/slog"
	"net/http"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/service"
)

type NotificationListResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Page          int                    `json:"page"`
	Limit         int                    `json:"limit"`
}

// NotificationsHandler обрабатывает GET /api/notifications.
// Пользователь берется из контекста (JWT middleware), видны только его уведомления
func NotificationsHandler(log *slog.Logger, notifications service.NotificationServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.NotificationsHandler"
		logger := log.With(slog.String("op", op))

		actor, ok := actorFrom(w, r, logger)
		if !ok {
			return
		}
		page, err := intQuery(r, "page")
		if err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		limit, err := intQuery(r, "limit")
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		list, err := notifications.ListNotifications(r.Context(), actor, page, limit)
		if err != nil {
			writeError(w, logger, "failed to list notifications", err)
			return
		}
		page, limit = service.NormalizePage(page, limit)
		writeJSON(w, logger, http.StatusOK, NotificationListResponse{Notifications: list, Page: page, Limit: limit})
	}
}
