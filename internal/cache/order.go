package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/redis/go-redis/v9"
)

// order:{id} -> JSON заказа
const keyOrder = "order:%d"

// order:{id}:floor -> минимальная версия, которую еще можно положить в кеш
const keyOrderFloor = "order:%d:floor"

// DefaultOrderTTL - сколько живет запись, если в конфиге не задано
const DefaultOrderTTL = 5 * time.Minute

// OrderCache кеширует заказы в Redis. Запись живет ttl и удаляется при каждом изменении заказа.
type OrderCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewOrderCache(rdb redis.Cmdable, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = DefaultOrderTTL
	}
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func orderKey(id int64) string {
	return fmt.Sprintf(keyOrder, id)
}

func floorKey(id int64) string {
	return fmt.Sprintf(keyOrderFloor, id)
}

// KEYS: заказ, порог версии. ARGV: json, версия, ttl в мс.
// Чтение, загрузившее заказ до коммита, не может вернуть в кеш устаревшую версию.
var setScript = redis.NewScript(`
local floor = redis.call('GET', KEYS[2])
if floor and tonumber(ARGV[2]) < tonumber(floor) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// KEYS: заказ, порог версии. ARGV: закоммиченная версия, ttl в мс. Порог только растет.
var invalidateScript = redis.NewScript(`
local floor = redis.call('GET', KEYS[2])
if (not floor) or tonumber(floor) < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
else
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// Get возвращает (nil, false, nil), если ключа нет.
func (c *OrderCache) Get(ctx context.Context, id int64) (*models.Order, bool, error) {
	b, err := c.rdb.Get(ctx, orderKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get order %d: %w", id, err)
	}

	var order models.Order
	if err := json.Unmarshal(b, &order); err != nil {
		// битую запись просто игнорируем, следующий Set ее перезапишет
		return nil, false, fmt.Errorf("cache decode order %d: %w", id, err)
	}
	return &order, true, nil
}

// Set кладет заказ, если его версия не ниже порога, выставленного последней инвалидацией.
func (c *OrderCache) Set(ctx context.Context, order *models.Order) error {
	b, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("cache encode order %d: %w", order.ID, err)
	}
	keys := []string{orderKey(order.ID), floorKey(order.ID)}
	if err := setScript.Run(ctx, c.rdb, keys, b, order.Version, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("cache set order %d: %w", order.ID, err)
	}
	return nil
}

// Invalidate удаляет запись и запоминает закоммиченную версию как порог для Set.
// Порог живет столько же, сколько запись.
func (c *OrderCache) Invalidate(ctx context.Context, committed *models.Order) error {
	keys := []string{orderKey(committed.ID), floorKey(committed.ID)}
	if err := invalidateScript.Run(ctx, c.rdb, keys, committed.Version, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("cache invalidate order %d: %w", committed.ID, err)
	}
	return nil
}
