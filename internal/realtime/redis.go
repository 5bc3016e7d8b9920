package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/redis/go-redis/v9"
)

// user:{id}:events - канал, на который подписан websocket-шлюз пользователя
const channelUserEvents = "user:%d:events"

func UserChannel(userID int64) string {
	return fmt.Sprintf(channelUserEvents, userID)
}

// Emitter публикует события в Redis Pub/Sub. Доставка не гарантируется:
// если подписчика нет, сообщение теряется.
type Emitter struct {
	log *slog.Logger
	rdb redis.Cmdable
}

func NewEmitter(log *slog.Logger, rdb redis.Cmdable) *Emitter {
	return &Emitter{log: log, rdb: rdb}
}

func (e *Emitter) EmitToUser(ctx context.Context, userID int64, event *models.Event) error {
	const op = "realtime.EmitToUser"

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: encode event: %w", op, err)
	}

	receivers, err := e.rdb.Publish(ctx, UserChannel(userID), payload).Result()
	if err != nil {
		return fmt.Errorf("%s: publish: %w", op, err)
	}
	if receivers == 0 {
		e.log.Debug("user is offline, realtime event skipped",
			slog.String("op", op),
			slog.Int64("userID", userID),
			slog.String("event", string(event.Type)),
		)
	}
	return nil
}
