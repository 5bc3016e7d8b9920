package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/storage"
)

type NotificationServiceInterface interface {
	ListNotifications(ctx context.Context, actor models.Actor, page, limit int) ([]*models.Notification, error)
}

type NotificationService struct {
	log           *slog.Logger
	notifications storage.NotificationStorage
}

func NewNotificationService(log *slog.Logger, notifications storage.NotificationStorage) *NotificationService {
	return &NotificationService{log: log, notifications: notifications}
}

// ListNotifications возвращает уведомления текущего пользователя, новые первыми
func (s *NotificationService) ListNotifications(ctx context.Context, actor models.Actor, page, limit int) ([]*models.Notification, error) {
	const op = "service.NotificationService.ListNotifications"

	page, limit = NormalizePage(page, limit)

	list, err := s.notifications.ListByRecipient(ctx, actor.UserID, limit, (page-1)*limit)
	if err != nil {
		s.log.Error("failed to list notifications", slog.String("op", op), slog.Int64("userID", actor.UserID), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list notifications: %w", op, err)
	}
	return list, nil
}
