package chatmod

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamKey        = "chatmod:events"
	consumerGroup    = "chatmod-dashboard"
	readBlock        = 5 * time.Second
	readCount        = 32
)

// RedisQueueConfig configures a Redis Streams-backed Queue.
type RedisQueueConfig struct {
	Addr       string
	Username   string
	Password   string
	TLS        *tls.Config
	ConsumerID string
	Logger     *slog.Logger
}

type redisQueue struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	consumerID string

	cancel context.CancelFunc
}

// NewRedisQueue constructs a Queue backed by a Redis stream read through a
// single consumer group: consumers sharing the group split the events
// between them, each event going to one consumer. The group is created on
// Subscribe if it does not already exist.
func NewRedisQueue(cfg RedisQueueConfig) (Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("chatmod: redis addr is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	consumerID := cfg.ConsumerID
	if consumerID == "" {
		consumerID = "dashboard-1"
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Username:  cfg.Username,
		Password:  cfg.Password,
		TLSConfig: cfg.TLS,
	})
	return &redisQueue{client: client, logger: logger, consumerID: consumerID}, nil
}

func (q *redisQueue) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		q.logger.Error("failed to marshal chat event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err(); err != nil {
		q.logger.Error("failed to publish chat event", "error", err)
	}
}

func (q *redisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Event, 64)

	if err := q.client.XGroupCreateMkStream(ctx, streamKey, consumerGroup, "$").Err(); err != nil {
		// BUSYGROUP means the group already exists; any other error is
		// logged but subscription proceeds, since reads will simply fail
		// until the group is created out of band.
		if !isBusyGroupErr(err) {
			q.logger.Warn("failed to create consumer group", "error", err)
		}
	}

	go q.readLoop(ctx, ch)

	return &redisSubscription{ch: ch, cancel: cancel}
}

func (q *redisQueue) readLoop(ctx context.Context, ch chan Event) {
	defer close(ch)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: q.consumerID,
			Streams:  []string{streamKey, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err != redis.Nil {
				q.logger.Warn("chat event read failed", "error", err)
			}
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				raw, _ := msg.Values["payload"].(string)
				var event Event
				if err := json.Unmarshal([]byte(raw), &event); err != nil {
					q.logger.Warn("failed to decode chat event", "error", err)
				} else {
					select {
					case ch <- event:
					case <-ctx.Done():
						return
					}
				}
				q.client.XAck(ctx, streamKey, consumerGroup, msg.ID)
			}
		}
	}
}

func (q *redisQueue) Close() {
	_ = q.client.Close()
}

type redisSubscription struct {
	ch     chan Event
	cancel context.CancelFunc
}

func (s *redisSubscription) Events() <-chan Event {
	return s.ch
}

func (s *redisSubscription) Close() {
	s.cancel()
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
