// Package broker is the durable publish/subscribe transport between the
// activity publisher and the admin consumer. Offsets are tracked by the broker
// per consumer group; the application only acknowledges handled messages.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"activity-platform/pkg/utils"
)

const (
	DriverRedis = "redis"
	DriverNATS  = "nats"
)

// Message is one record read from a topic. Value is the encoded envelope.
type Message struct {
	Topic string
	ID    string
	Value []byte
}

// Producer sends encoded records to a topic.
type Producer interface {
	Send(ctx context.Context, topic string, value []byte) error
	Close() error
}

// Subscription is a group-scoped cursor over one topic.
type Subscription interface {
	// Next blocks until a message is available or ctx is done.
	Next(ctx context.Context) (Message, error)
	// Ack commits msg for the subscription's group.
	Ack(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber opens group subscriptions. New groups start from the earliest
// retained record.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string) (Subscription, error)
	Close() error
}

// Options selects and addresses a broker driver.
type Options struct {
	Driver   string
	Addrs    []string
	ClientID string

	// PollWait bounds how long a subscription blocks on the broker before
	// re-checking its context.
	PollWait time.Duration
}

var ErrUnknownDriver = errors.New("broker: unknown driver")

func (o Options) withDefaults() Options {
	out := o
	if out.PollWait <= 0 {
		out.PollWait = time.Second
	}
	return out
}

// DialProducer connects a producer and verifies the broker is reachable.
func DialProducer(ctx context.Context, o Options) (Producer, error) {
	o = o.withDefaults()
	switch o.Driver {
	case DriverRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: firstAddr(o.Addrs), ClientID: o.ClientID})
		if err != nil {
			return nil, err
		}
		return NewRedisProducer(rdb), nil
	case DriverNATS:
		nc, err := connectNATS(o)
		if err != nil {
			return nil, err
		}
		return NewNATSProducer(nc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, o.Driver)
	}
}

// DialSubscriber connects a subscriber and verifies the broker is reachable.
func DialSubscriber(ctx context.Context, o Options) (Subscriber, error) {
	o = o.withDefaults()
	switch o.Driver {
	case DriverRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: firstAddr(o.Addrs), ClientID: o.ClientID})
		if err != nil {
			return nil, err
		}
		return NewRedisSubscriber(rdb, o.ClientID, o.PollWait), nil
	case DriverNATS:
		nc, err := connectNATS(o)
		if err != nil {
			return nil, err
		}
		return NewNATSSubscriber(nc, o.PollWait)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, o.Driver)
	}
}

func connectNATS(o Options) (*nats.Conn, error) {
	url := strings.Join(o.Addrs, ",")
	nc, err := nats.Connect(url,
		nats.Name(o.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

func firstAddr(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return strings.TrimSpace(addrs[0])
}
