package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/linemk/reseller-shop/internal/service"
	"github.com/linemk/reseller-shop/internal/storage"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User // ключ - email
}

var _ storage.UserStorage = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (f *fakeUserRepo) add(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Email] = u
	return u
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = int64(len(f.users) + 1)
	f.users[user.Email] = user
	return user, nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (f *fakeUserRepo) ListAdminIDs(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, u := range f.users {
		if u.Role == models.RoleAdmin {
			ids = append(ids, u.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeUserRepo) SetLastOrderDate(ctx context.Context, id int64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			u.LastOrderDate = &ts
			return nil
		}
	}
	return storage.ErrUserNotFound
}

type reservationKey struct {
	id        string
	productID int64
}

type journalRow struct {
	qty       int
	createdAt time.Time
}

// fakeCatalog держит остатки и журнал резервов под одним мьютексом,
// это и есть атомарное списание в памяти
type fakeCatalog struct {
	mu       sync.Mutex
	products map[int64]*models.Product
	journal  map[reservationKey]journalRow
}

var _ storage.CatalogStorage = (*fakeCatalog)(nil)

func newFakeCatalog(products ...*models.Product) *fakeCatalog {
	c := &fakeCatalog{
		products: make(map[int64]*models.Product),
		journal:  make(map[reservationKey]journalRow),
	}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) stock(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[id].AvailableStock
}

func (c *fakeCatalog) journalSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.journal)
}

// commit удаляет строки журнала резерва, как это делает транзакция сохранения заказа
func (c *fakeCatalog) commit(reservationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.journal {
		if k.id == reservationID {
			delete(c.journal, k)
		}
	}
}

// age сдвигает время создания всех строк журнала в прошлое
func (c *fakeCatalog) age(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, row := range c.journal {
		row.createdAt = row.createdAt.Add(-d)
		c.journal[k] = row
	}
}

func (c *fakeCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *fakeCatalog) DecrementIfAvailable(ctx context.Context, reservationID string, productID int64, qty int) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	if p.AvailableStock < qty {
		return nil, &models.InsufficientStockError{ProductID: productID, Requested: qty, Available: p.AvailableStock}
	}
	p.AvailableStock -= qty
	c.journal[reservationKey{reservationID, productID}] = journalRow{qty: qty, createdAt: time.Now()}
	cp := *p
	return &cp, nil
}

func (c *fakeCatalog) Release(ctx context.Context, reservationID string, productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := reservationKey{reservationID, productID}
	row, ok := c.journal[key]
	if !ok {
		return nil
	}
	delete(c.journal, key)
	c.products[productID].AvailableStock += row.qty
	return nil
}

func (c *fakeCatalog) ListStaleReservations(ctx context.Context, before time.Time) ([]models.Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Reservation
	for k, row := range c.journal {
		if row.createdAt.Before(before) {
			out = append(out, models.Reservation{ReservationID: k.id, ProductID: k.productID, Quantity: row.qty})
		}
	}
	return out, nil
}

type fakeOrderRepo struct {
	mu      sync.Mutex
	orders  map[int64]*models.Order
	nextID  int64
	catalog *fakeCatalog

	createErr    error
	conflictNext bool
	// afterGet срабатывает один раз после чтения заказа, до возврата результата
	afterGet func()
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo(catalog *fakeCatalog) *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int64]*models.Order), catalog: catalog}
}

func (f *fakeOrderRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// put кладет заказ напрямую, минуя создание
func (f *fakeOrderRepo) put(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.Version == 0 {
		o.Version = 1
	}
	f.orders[o.ID] = o.Clone()
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, order *models.Order, reservationID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	order.ID = f.nextID
	order.Version = 1
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	f.orders[order.ID] = order.Clone()
	if f.catalog != nil {
		f.catalog.commit(reservationID)
	}
	return order, nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	o, ok := f.orders[id]
	if ok {
		o = o.Clone()
	}
	hook := f.afterGet
	f.afterGet = nil
	f.mu.Unlock()

	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	if hook != nil {
		hook()
	}
	return o, nil
}

func (f *fakeOrderRepo) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, o := range f.orders {
		if filter.ResellerID != nil && o.ResellerID != *filter.ResellerID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	start := (filter.Page - 1) * filter.Limit
	if start >= len(out) {
		return []*models.Order{}, nil
	}
	end := start + filter.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (f *fakeOrderRepo) UpdateOrder(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictNext {
		f.conflictNext = false
		return storage.ErrVersionConflict
	}
	stored, ok := f.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return storage.ErrVersionConflict
	}
	order.Version++
	order.UpdatedAt = time.Now()
	f.orders[order.ID] = order.Clone()
	return nil
}

// fakeCache повторяет контракт Redis-кеша: после инвалидации версия ниже порога не кладется
type fakeCache struct {
	mu          sync.Mutex
	orders      map[int64]*models.Order
	floor       map[int64]int
	hits        int
	invalidated []int64
}

var _ service.OrderCache = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{orders: make(map[int64]*models.Order), floor: make(map[int64]int)}
}

func (c *fakeCache) Get(ctx context.Context, id int64) (*models.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return o.Clone(), true, nil
}

func (c *fakeCache) Set(ctx context.Context, order *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if order.Version < c.floor[order.ID] {
		return nil
	}
	c.orders[order.ID] = order.Clone()
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, committed *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if committed.Version > c.floor[committed.ID] {
		c.floor[committed.ID] = committed.Version
	}
	delete(c.orders, committed.ID)
	c.invalidated = append(c.invalidated, committed.ID)
	return nil
}

type dispatched struct {
	event models.EventType
	order *models.Order
	actor models.Actor
}

// recordingDispatcher запоминает события синхронно
type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
}

var _ service.Dispatcher = (*recordingDispatcher)(nil)

func (d *recordingDispatcher) Dispatch(ctx context.Context, event models.EventType, order *models.Order, actor models.Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{event: event, order: order.Clone(), actor: actor})
}

func (d *recordingDispatcher) types() []models.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.EventType, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.event)
	}
	return out
}

type fakeNotificationRepo struct {
	mu    sync.Mutex
	items []*models.Notification
	err   error
}

var _ storage.NotificationStorage = (*fakeNotificationRepo)(nil)

func (f *fakeNotificationRepo) CreateNotification(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	n.ID = int64(len(f.items) + 1)
	n.CreatedAt = time.Now()
	f.items = append(f.items, n)
	return nil
}

func (f *fakeNotificationRepo) ListByRecipient(ctx context.Context, recipientID int64, limit, offset int) ([]*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var own []*models.Notification
	for i := len(f.items) - 1; i >= 0; i-- {
		if f.items[i].RecipientID == recipientID {
			own = append(own, f.items[i])
		}
	}
	if offset >= len(own) {
		return []*models.Notification{}, nil
	}
	end := offset + limit
	if end > len(own) {
		end = len(own)
	}
	return own[offset:end], nil
}

func (f *fakeNotificationRepo) forRecipient(id int64) []*models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Notification
	for _, n := range f.items {
		if n.RecipientID == id {
			out = append(out, n)
		}
	}
	return out
}

var errBoom = errors.New("boom")
