package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// valueField is the stream entry field holding the encoded record.
const valueField = "value"

// RedisProducer appends records to a Redis stream named after the topic.
type RedisProducer struct {
	rdb *redis.Client
}

func NewRedisProducer(rdb *redis.Client) *RedisProducer {
	return &RedisProducer{rdb: rdb}
}

func (p *RedisProducer) Send(ctx context.Context, topic string, value []byte) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{valueField: value},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

func (p *RedisProducer) Close() error {
	return p.rdb.Close()
}

// RedisSubscriber reads streams through consumer groups. The consumer name
// is the configured client id, so a restarted process picks up its own
// pending entries first.
type RedisSubscriber struct {
	rdb      *redis.Client
	consumer string
	block    time.Duration
}

func NewRedisSubscriber(rdb *redis.Client, consumer string, block time.Duration) *RedisSubscriber {
	if consumer == "" {
		consumer = "consumer"
	}
	return &RedisSubscriber{rdb: rdb, consumer: consumer, block: block}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, topic, group string) (Subscription, error) {
	// "0" makes a new group start from the beginning of the stream.
	err := s.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create group %s on %s: %w", group, topic, err)
	}
	return &redisSubscription{
		rdb:      s.rdb,
		topic:    topic,
		group:    group,
		consumer: s.consumer,
		block:    s.block,
		backlog:  true,
		cursor:   "0",
	}, nil
}

func (s *RedisSubscriber) Close() error {
	return s.rdb.Close()
}

// streamClient is the part of *redis.Client a subscription reads through.
type streamClient interface {
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type redisSubscription struct {
	rdb      streamClient
	topic    string
	group    string
	consumer string
	block    time.Duration

	// backlog is true while entries delivered before a restart but never
	// acknowledged are being replayed. cursor is the last replayed id, so an
	// entry whose ack failed is not handed out again on the next read.
	backlog bool
	cursor  string
	buf     []Message
}

func (s *redisSubscription) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		if len(s.buf) > 0 {
			m := s.buf[0]
			s.buf = s.buf[1:]
			return m, nil
		}

		start := ">"
		if s.backlog {
			start = s.cursor
		}
		res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.topic, start},
			Count:    16,
			Block:    s.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Message{}, ctxErr
			}
			return Message{}, fmt.Errorf("xreadgroup %s: %w", s.topic, err)
		}

		n := 0
		for _, stream := range res {
			for _, xm := range stream.Messages {
				s.buf = append(s.buf, Message{Topic: stream.Stream, ID: xm.ID, Value: streamValue(xm)})
				if s.backlog {
					s.cursor = xm.ID
				}
				n++
			}
		}
		if s.backlog && n == 0 {
			s.backlog = false
		}
	}
}

func (s *redisSubscription) Ack(ctx context.Context, msg Message) error {
	if err := s.rdb.XAck(ctx, s.topic, s.group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", s.topic, msg.ID, err)
	}
	return nil
}

// Close releases nothing; the client is owned by the subscriber.
func (s *redisSubscription) Close() error {
	s.buf = nil
	return nil
}

func streamValue(xm redis.XMessage) []byte {
	switch v := xm.Values[valueField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}
