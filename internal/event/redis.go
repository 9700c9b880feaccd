package event

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamKey — имя redis-потока доменных событий.
const StreamKey = "sponsorlink:events"

// maxStreamLength ограничивает длину потока, чтобы он не рос бесконечно.
const maxStreamLength = 100000

// RedisStream публикует доменные события в Redis Streams.
type RedisStream struct {
	client *redis.Client
}

// NewRedisStream создаёт поток событий поверх указанного клиента Redis.
func NewRedisStream(client *redis.Client) *RedisStream {
	return &RedisStream{client: client}
}

// Push добавляет событие в поток. Доставка — не реже одного раза: потребители
// обязаны переносить повторную доставку.
func (s *RedisStream) Push(ctx context.Context, e Event) error {
	data, err := Marshal(e)
	if err != nil {
		return err
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]any{
			"type": e.EventType(),
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s event: %w", e.EventType(), err)
	}

	return nil
}
