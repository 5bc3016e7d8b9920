package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/storage"
)

// Dispatcher принимает уже закоммиченные изменения заказа и рассылает побочные эффекты.
// Записи уведомлений сохраняются до возврата из Dispatch, остальные каналы доставляются в фоне.
// Ошибки не возвращаются.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.EventType, order *models.Order, actor models.Actor)
}

// RealtimeEmitter доставляет событие в канал пользователя, если он сейчас подключен.
type RealtimeEmitter interface {
	EmitToUser(ctx context.Context, userID int64, event *models.Event) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EventPublisher публикует конверт события во внешний поток.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

const eventSchemaVersion = 1

// время на обработку одного события фоновыми каналами
const handleTimeout = 10 * time.Second

// время на запись уведомлений в вызывающей горутине
const recordTimeout = 5 * time.Second

// EventDispatcher пишет уведомления синхронно, а realtime, почту и поток событий
// отдает ограниченной очереди с пулом воркеров. При переполнении очереди теряются только фоновые каналы.
type EventDispatcher struct {
	log           *slog.Logger
	notifications storage.NotificationStorage
	users         storage.UserStorage
	realtime      RealtimeEmitter
	email         EmailSender
	publisher     EventPublisher

	queue   chan job
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// DispatcherDeps - получатели побочных эффектов. Nil-поля пропускаются.
type DispatcherDeps struct {
	Notifications storage.NotificationStorage
	Users         storage.UserStorage
	Realtime      RealtimeEmitter
	Email         EmailSender
	Publisher     EventPublisher
}

func NewEventDispatcher(log *slog.Logger, workers, queueSize int, deps DispatcherDeps) *EventDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &EventDispatcher{
		log:           log,
		notifications: deps.Notifications,
		users:         deps.Users,
		realtime:      deps.Realtime,
		email:         deps.Email,
		publisher:     deps.Publisher,
		queue:         make(chan job, queueSize),
		workers:       workers,
	}
}

// Start запускает воркеров. Они работают до Stop.
func (d *EventDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				d.handle(ctx, j)
			}
		}()
	}
}

// Stop закрывает очередь и ждет, пока воркеры обработают уже принятые события.
func (d *EventDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// job - событие и его получатели для фоновых каналов
type job struct {
	ev         *models.Event
	recipients []int64
}

func (d *EventDispatcher) Dispatch(ctx context.Context, eventType models.EventType, order *models.Order, actor models.Actor) {
	const op = "service.EventDispatcher.Dispatch"
	logger := d.log.With(
		slog.String("op", op),
		slog.String("event", string(eventType)),
		slog.Int64("orderID", order.ID),
	)

	ev := &models.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Version:    eventSchemaVersion,
		OccurredAt: time.Now().UTC(),
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Order:      order.Clone(),
	}

	// изменение уже закоммичено, отмена запроса не должна терять уведомление
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	recipients, err := d.recipients(rctx, ev)
	if err != nil {
		logger.Error("side effect failed", slog.String("leg", "recipients"), slog.Any("error", err))
	}
	d.record(rctx, logger, ev, recipients)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logger.Warn("dispatcher stopped, background legs dropped")
		return
	}

	select {
	case d.queue <- job{ev: ev, recipients: recipients}:
	default:
		logger.Warn("dispatch queue is full, background legs dropped")
	}
}

// record сохраняет записи уведомлений. Это единственный надежный побочный эффект.
func (d *EventDispatcher) record(ctx context.Context, logger *slog.Logger, ev *models.Event, recipients []int64) {
	if d.notifications == nil {
		return
	}
	message := eventMessage(ev)
	for _, recipientID := range recipients {
		n := &models.Notification{
			RecipientID: recipientID,
			Type:        ev.Type,
			Message:     message,
			OrderID:     ev.Order.ID,
		}
		if err := d.notifications.CreateNotification(ctx, n); err != nil {
			logger.Error("side effect failed", slog.String("leg", "notification"), slog.Int64("recipientID", recipientID), slog.Any("error", err))
		}
	}
}

func (d *EventDispatcher) handle(ctx context.Context, j job) {
	const op = "service.EventDispatcher.handle"
	ev := j.ev
	logger := d.log.With(
		slog.String("op", op),
		slog.String("event", string(ev.Type)),
		slog.String("eventID", ev.ID),
		slog.Int64("orderID", ev.Order.ID),
	)

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if d.realtime != nil {
		for _, recipientID := range j.recipients {
			if err := d.realtime.EmitToUser(ctx, recipientID, ev); err != nil {
				logger.Warn("side effect failed", slog.String("leg", "realtime"), slog.Int64("recipientID", recipientID), slog.Any("error", err))
			}
		}
	}

	// поток событий раньше почты: медленный SMTP не должен задерживать публикацию
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, ev); err != nil {
			logger.Warn("side effect failed", slog.String("leg", "stream"), slog.Any("error", err))
		}
	}

	if ev.Type == models.EventPaymentConfirmed {
		d.sendPaymentEmail(ctx, logger, ev)
	}
}

// recipients: администраторы узнают о новых заказах и чеках, реселлер - обо всем остальном
func (d *EventDispatcher) recipients(ctx context.Context, ev *models.Event) ([]int64, error) {
	switch ev.Type {
	case models.EventOrderPlaced, models.EventPaymentProofUploaded:
		if d.users == nil {
			return nil, nil
		}
		ids, err := d.users.ListAdminIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list admins: %w", err)
		}
		return ids, nil
	case models.EventPaymentConfirmed, models.EventShippingFeeUpdated, models.EventShipped, models.EventDelivered:
		return []int64{ev.Order.ResellerID}, nil
	default:
		return nil, nil
	}
}

func (d *EventDispatcher) sendPaymentEmail(ctx context.Context, logger *slog.Logger, ev *models.Event) {
	if d.email == nil || d.users == nil {
		return
	}
	reseller, err := d.users.GetUserByID(ctx, ev.Order.ResellerID)
	if err != nil {
		logger.Error("side effect failed", slog.String("leg", "email"), slog.Any("error", err))
		return
	}
	subject := fmt.Sprintf("Payment for order #%d confirmed", ev.Order.ID)
	body := fmt.Sprintf("Payment of %s for order #%d has been verified. The order is ready for shipping method selection.",
		ev.Order.TotalAmount.StringFixed(2), ev.Order.ID)
	if err := d.email.Send(ctx, reseller.Email, subject, body); err != nil {
		logger.Warn("side effect failed", slog.String("leg", "email"), slog.Any("error", err))
	}
}

func eventMessage(ev *models.Event) string {
	o := ev.Order
	switch ev.Type {
	case models.EventOrderPlaced:
		return fmt.Sprintf("New order #%d placed, total %s", o.ID, o.TotalAmount.StringFixed(2))
	case models.EventPaymentProofUploaded:
		return fmt.Sprintf("Payment proof uploaded for order #%d", o.ID)
	case models.EventPaymentConfirmed:
		return fmt.Sprintf("Payment for order #%d confirmed", o.ID)
	case models.EventShippingFeeUpdated:
		return fmt.Sprintf("Shipping fee for order #%d updated to %s, new total %s", o.ID, o.ShippingFee.StringFixed(2), o.TotalAmount.StringFixed(2))
	case models.EventShipped:
		return fmt.Sprintf("Order #%d shipped", o.ID)
	case models.EventDelivered:
		return fmt.Sprintf("Order #%d delivered", o.ID)
	default:
		return fmt.Sprintf("Order #%d: %s", o.ID, ev.Type)
	}
}
