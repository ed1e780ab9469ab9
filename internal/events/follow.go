package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Follow — живучая подписка на канал итогов прогонов: видит события всех
// экземпляров дашборда, включая свои. Переподключается сама, выходит по ctx.
func Follow(
	ctx context.Context,
	rdb *redis.Client,
	channel string,
	logger *zap.Logger,
	onEvent func(RunEvent),
) {
	logger = logger.Named("follower")
	backoff := time.Second

	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Warn("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			continue
		}
		logger.Debug("subscribed", zap.String("chan", channel))

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				var ev RunEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Error("invalid run event", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				onEvent(ev)
			}
		}

		pubsub.Close()
		if !sleep(ctx, backoff) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
