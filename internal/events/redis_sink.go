package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink публикует итоги прогонов в Pub/Sub канал, чтобы их видели
// другие экземпляры дашборда и внешние подписчики.
type RedisSink struct {
	rdb      *redis.Client
	channel  string
	attempts uint
	logger   *zap.Logger
}

func NewRedisSink(rdb *redis.Client, channel string, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		rdb:      rdb,
		channel:  channel,
		attempts: 3,
		logger:   logger.Named("redis-sink"),
	}
}

func (s *RedisSink) WriteBatch(ctx context.Context, batch []RunEvent) error {
	if len(batch) == 0 {
		return nil
	}

	payloads := make([][]byte, 0, len(batch))
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal run event %s: %w", e.ID, err)
		}
		payloads = append(payloads, data)
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(s.attempts),
	)

	return r.Do(func() error {
		pipe := s.rdb.Pipeline()
		for _, p := range payloads {
			pipe.Publish(ctx, s.channel, p)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn("publish batch failed", zap.Int("count", len(payloads)), zap.Error(err))
			return err
		}
		return nil
	})
}
