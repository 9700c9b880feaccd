package event

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/sponsorlink-system/internal/metrics"
	"github.com/mmeshcher/sponsorlink-system/internal/model"
)

const (
	consumerGroup = "sponsorlink"
	readCount     = 10
	readBlock     = 5 * time.Second

	// maxAttempts ограничивает число перепубликаций одного события сверки.
	maxAttempts = 5
)

var errNotReconciled = errors.New("refresh not reconciled yet")

// RefreshHandler описывает контракт сверки, вызываемой потребителем событий.
type RefreshHandler interface {
	SyncUser(ctx context.Context, account model.AccountID, sponsorableID string, unregister bool) (bool, error)
}

// Consumer читает поток доменных событий и выполняет отложенные сверки спонсоров.
// Остальные типы событий подтверждаются и журналируются: их доставка нужна
// внешним подписчикам, а не самому сервису.
type Consumer struct {
	client  *redis.Client
	stream  Stream
	handler RefreshHandler
	logger  *zap.Logger
	metrics *metrics.Metrics
	name    string

	// retryBase — базовая задержка между попытками сверки внутри одной доставки.
	retryBase time.Duration
}

// NewConsumer создаёт потребителя потока событий с указанным именем внутри группы.
func NewConsumer(client *redis.Client, stream Stream, handler RefreshHandler, logger *zap.Logger, m *metrics.Metrics, name string) *Consumer {
	return &Consumer{
		client:    client,
		stream:    stream,
		handler:   handler,
		logger:    logger,
		metrics:   m,
		name:      name,
		retryBase: time.Second,
	}
}

// Run читает события до отмены контекста. Возвращает nil после отмены.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, StreamKey, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: c.name,
			Streams:  []string{StreamKey, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("read event stream", zap.Error(err))
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				c.process(ctx, msg)
				// Подтверждаем в любом случае: повтор обеспечивается
				// перепубликацией со счётчиком попыток, а не redis.
				if err := c.client.XAck(ctx, StreamKey, consumerGroup, msg.ID).Err(); err != nil {
					c.logger.Error("ack event", zap.String("id", msg.ID), zap.Error(err))
				}
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	eventType, _ := msg.Values["type"].(string)
	data, _ := msg.Values["data"].(string)

	e, err := Unmarshal(eventType, []byte(data))
	if err != nil {
		c.logger.Error("decode event", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	switch ev := e.(type) {
	case *UserRefreshPending:
		c.handleRefresh(ctx, ev)
	default:
		c.logger.Info("event observed", zap.String("type", eventType))
	}
}

func (c *Consumer) handleRefresh(ctx context.Context, ev *UserRefreshPending) {
	account := model.AccountID{ID: ev.AccountID, Login: ev.Login}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(c.retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		done, err := c.handler.SyncUser(ctx, account, ev.SponsorableID, ev.Unregister)
		if err != nil {
			// Жёсткая ошибка (нарушение инварианта): повтор не поможет.
			return err
		}
		if !done {
			return retry.RetryableError(errNotReconciled)
		}
		return nil
	})

	switch {
	case err == nil:
		c.metrics.RefreshCompleted.Inc()
	case errors.Is(err, errNotReconciled):
		c.metrics.RefreshIncomplete.Inc()
		c.requeue(ctx, ev)
	default:
		c.logger.Error("refresh user",
			zap.String("login", ev.Login),
			zap.Bool("unregister", ev.Unregister),
			zap.Error(err))
		c.metrics.RefreshDropped.Inc()
	}
}

func (c *Consumer) requeue(ctx context.Context, ev *UserRefreshPending) {
	if ev.Attempt+1 >= maxAttempts {
		c.logger.Warn("giving up on user refresh",
			zap.String("login", ev.Login),
			zap.Int("attempts", ev.Attempt+1))
		c.metrics.RefreshDropped.Inc()
		return
	}

	next := *ev
	next.Attempt++

	if err := c.stream.Push(ctx, &next); err != nil {
		c.logger.Error("requeue user refresh", zap.String("login", ev.Login), zap.Error(err))
	}
}
