package service_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRealtime struct {
	mu    sync.Mutex
	sent  map[int64][]models.EventType
	fails bool
}

func (f *fakeRealtime) EmitToUser(ctx context.Context, userID int64, ev *models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails {
		return errBoom
	}
	if f.sent == nil {
		f.sent = make(map[int64][]models.EventType)
	}
	f.sent[userID] = append(f.sent[userID], ev.Type)
	return nil
}

func (f *fakeRealtime) count(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[userID])
}

type fakeEmail struct {
	mu   sync.Mutex
	to   []string
	fail bool
}

func (f *fakeEmail) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	if f.fail {
		return errBoom
	}
	return nil
}

func (f *fakeEmail) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.to...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (f *fakePublisher) Publish(ctx context.Context, ev *models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type dispatcherFixture struct {
	users         *fakeUserRepo
	notifications *fakeNotificationRepo
	realtime      *fakeRealtime
	email         *fakeEmail
	publisher     *fakePublisher
	dispatcher    *service.EventDispatcher
}

func newDispatcherFixture(workers, queueSize int) *dispatcherFixture {
	users := newFakeUserRepo()
	users.add(&models.User{ID: 1, Email: "reseller@example.com", Role: models.RoleReseller})
	users.add(&models.User{ID: 3, Email: "admin@example.com", Role: models.RoleAdmin})
	users.add(&models.User{ID: 4, Email: "admin2@example.com", Role: models.RoleAdmin})

	f := &dispatcherFixture{
		users:         users,
		notifications: &fakeNotificationRepo{},
		realtime:      &fakeRealtime{},
		email:         &fakeEmail{},
		publisher:     &fakePublisher{},
	}
	f.dispatcher = service.NewEventDispatcher(slog.New(slog.NewTextHandler(os.Stdout, nil)), workers, queueSize, service.DispatcherDeps{
		Notifications: f.notifications,
		Users:         users,
		Realtime:      f.realtime,
		Email:         f.email,
		Publisher:     f.publisher,
	})
	return f
}

func sampleOrder() *models.Order {
	return &models.Order{ID: 10, ResellerID: 1, TotalAmount: dec(275), Status: models.StatusPaymentConfirmed}
}

func TestEventDispatcher_OrderPlacedNotifiesAdmins(t *testing.T) {
	f := newDispatcherFixture(2, 10)
	f.dispatcher.Start(context.Background())
	defer f.dispatcher.Stop()

	f.dispatcher.Dispatch(context.Background(), models.EventOrderPlaced, sampleOrder(), models.Actor{UserID: 1, Role: models.RoleReseller})

	assert.Eventually(t, func() bool {
		return len(f.notifications.forRecipient(3)) == 1 && len(f.notifications.forRecipient(4)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.publisher.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, f.notifications.forRecipient(1))
	assert.Empty(t, f.email.recipients())

	n := f.notifications.forRecipient(3)[0]
	assert.Equal(t, models.EventOrderPlaced, n.Type)
	assert.Equal(t, int64(10), n.OrderID)
	assert.Contains(t, n.Message, "#10")
}

func TestEventDispatcher_PaymentConfirmedSurvivesFailingLegs(t *testing.T) {
	f := newDispatcherFixture(1, 10)
	f.realtime.fails = true
	f.email.fail = true
	f.dispatcher.Start(context.Background())

	f.dispatcher.Dispatch(context.Background(), models.EventPaymentConfirmed, sampleOrder(), models.Actor{UserID: 3, Role: models.RoleAdmin})
	f.dispatcher.Stop()

	require.Len(t, f.notifications.forRecipient(1), 1, "notification record is written even when other legs fail")
	assert.Equal(t, []string{"reseller@example.com"}, f.email.recipients())
	assert.Equal(t, 1, f.publisher.count())
}

func TestEventDispatcher_RealtimeGoesToRecipient(t *testing.T) {
	f := newDispatcherFixture(1, 10)
	f.dispatcher.Start(context.Background())

	f.dispatcher.Dispatch(context.Background(), models.EventDelivered, sampleOrder(), models.Actor{UserID: 3, Role: models.RoleAdmin})
	f.dispatcher.Dispatch(context.Background(), models.EventReadyForDispatch, sampleOrder(), models.Actor{UserID: 1, Role: models.RoleReseller})
	f.dispatcher.Stop()

	assert.Equal(t, 1, f.realtime.count(1))
	assert.Len(t, f.notifications.forRecipient(1), 1, "ready_for_dispatch goes to the stream only")
	assert.Equal(t, 2, f.publisher.count())
}

func TestEventDispatcher_FullQueueDropsOnlyBackgroundLegs(t *testing.T) {
	f := newDispatcherFixture(1, 1)

	// воркеры еще не запущены, в очередь помещается одно событие
	f.dispatcher.Dispatch(context.Background(), models.EventShipped, sampleOrder(), models.Actor{UserID: 3, Role: models.RoleAdmin})
	f.dispatcher.Dispatch(context.Background(), models.EventDelivered, sampleOrder(), models.Actor{UserID: 3, Role: models.RoleAdmin})

	notes := f.notifications.forRecipient(1)
	require.Len(t, notes, 2, "notification records are written before Dispatch returns")
	assert.Equal(t, models.EventShipped, notes[0].Type)
	assert.Equal(t, models.EventDelivered, notes[1].Type)

	f.dispatcher.Start(context.Background())
	f.dispatcher.Stop()

	assert.Equal(t, 1, f.publisher.count())
	assert.Equal(t, 1, f.realtime.count(1))
}

func TestEventDispatcher_DispatchAfterStopIsDropped(t *testing.T) {
	f := newDispatcherFixture(1, 4)
	f.dispatcher.Start(context.Background())
	f.dispatcher.Stop()
	f.dispatcher.Stop()

	assert.NotPanics(t, func() {
		f.dispatcher.Dispatch(context.Background(), models.EventShipped, sampleOrder(), models.Actor{UserID: 3, Role: models.RoleAdmin})
	})
	assert.Zero(t, f.publisher.count())
	assert.Len(t, f.notifications.forRecipient(1), 1, "notification survives a stopped dispatcher")
}

func TestEventDispatcher_CancelledRequestStillRecordsNotification(t *testing.T) {
	f := newDispatcherFixture(1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.dispatcher.Dispatch(ctx, models.EventDelivered, sampleOrder(), models.Actor{UserID: 3, Role: models.RoleAdmin})

	assert.Len(t, f.notifications.forRecipient(1), 1)
}

// stuckEmail висит, пока тест его не отпустит, и игнорирует контекст
type stuckEmail struct {
	release chan struct{}
	calls   atomic.Int32
}

func (e *stuckEmail) Send(ctx context.Context, to, subject, body string) error {
	e.calls.Add(1)
	<-e.release
	return nil
}

func TestEventDispatcher_StalledEmailDoesNotLoseNotifications(t *testing.T) {
	users := newFakeUserRepo()
	users.add(&models.User{ID: 1, Email: "reseller@example.com", Role: models.RoleReseller})
	users.add(&models.User{ID: 3, Email: "admin@example.com", Role: models.RoleAdmin})
	notifications := &fakeNotificationRepo{}
	email := &stuckEmail{release: make(chan struct{})}

	d := service.NewEventDispatcher(slog.New(slog.NewTextHandler(os.Stdout, nil)), 4, 16, service.DispatcherDeps{
		Notifications: notifications,
		Users:         users,
		Email:         email,
	})
	d.Start(context.Background())

	admin := models.Actor{UserID: 3, Role: models.RoleAdmin}
	for i := 0; i < 40; i++ {
		order := sampleOrder()
		order.ID = int64(100 + i)
		d.Dispatch(context.Background(), models.EventPaymentConfirmed, order, admin)
	}
	for i := 0; i < 10; i++ {
		order := sampleOrder()
		order.ID = int64(200 + i)
		d.Dispatch(context.Background(), models.EventOrderPlaced, order, models.Actor{UserID: 1, Role: models.RoleReseller})
	}

	assert.Len(t, notifications.forRecipient(1), 40, "every payment confirmation is recorded for the reseller")
	assert.Len(t, notifications.forRecipient(3), 10, "every new order is recorded for the admin")
	assert.Eventually(t, func() bool { return email.calls.Load() == 4 }, time.Second, 10*time.Millisecond, "all workers are stuck in email")

	close(email.release)
	d.Stop()
}

func TestEventDispatcher_EventCarriesSnapshot(t *testing.T) {
	f := newDispatcherFixture(1, 4)
	order := sampleOrder()

	f.dispatcher.Dispatch(context.Background(), models.EventShipped, order, models.Actor{UserID: 3, Role: models.RoleAdmin})
	order.Status = models.StatusDelivered
	f.dispatcher.Start(context.Background())
	f.dispatcher.Stop()

	require.Equal(t, 1, f.publisher.count())
	ev := f.publisher.events[0]
	assert.Equal(t, models.StatusPaymentConfirmed, ev.Order.Status, "later mutations do not leak into queued events")
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, int64(3), ev.ActorID)
	assert.Equal(t, models.RoleAdmin, ev.ActorRole)
}
