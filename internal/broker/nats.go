package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName maps a topic to the JetStream stream that retains it.
// "user.activity" becomes "USER_ACTIVITY".
func StreamName(topic string) string {
	return strings.ToUpper(sanitizeName(topic))
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '/', '\\':
			return '_'
		}
		return r
	}, s)
}

// streams creates each topic's stream once per connection.
type streams struct {
	js jetstream.JetStream

	mu    sync.Mutex
	ready map[string]struct{}
}

func (s *streams) ensure(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ready[topic]; ok {
		return nil
	}
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName(topic),
		Subjects: []string{topic},
	})
	if err != nil {
		return fmt.Errorf("ensure stream for %s: %w", topic, err)
	}
	s.ready[topic] = struct{}{}
	return nil
}

// NATSProducer publishes to JetStream and waits for the stream ack.
type NATSProducer struct {
	nc *nats.Conn
	st *streams
}

func NewNATSProducer(nc *nats.Conn) (*NATSProducer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &NATSProducer{nc: nc, st: &streams{js: js, ready: map[string]struct{}{}}}, nil
}

func (p *NATSProducer) Send(ctx context.Context, topic string, value []byte) error {
	if err := p.st.ensure(ctx, topic); err != nil {
		return err
	}
	if _, err := p.st.js.Publish(ctx, topic, value); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *NATSProducer) Close() error {
	p.nc.Close()
	return nil
}

// NATSSubscriber binds durable pull consumers, one per group.
type NATSSubscriber struct {
	nc   *nats.Conn
	st   *streams
	wait time.Duration
}

func NewNATSSubscriber(nc *nats.Conn, wait time.Duration) (*NATSSubscriber, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &NATSSubscriber{nc: nc, st: &streams{js: js, ready: map[string]struct{}{}}, wait: wait}, nil
}

func (s *NATSSubscriber) Subscribe(ctx context.Context, topic, group string) (Subscription, error) {
	if err := s.st.ensure(ctx, topic); err != nil {
		return nil, err
	}
	cons, err := s.st.js.CreateOrUpdateConsumer(ctx, StreamName(topic), jetstream.ConsumerConfig{
		Durable:       sanitizeName(group),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: topic,
	})
	if err != nil {
		return nil, fmt.Errorf("bind consumer %s on %s: %w", group, topic, err)
	}
	return &natsSubscription{cons: cons, wait: s.wait, inflight: map[string]jetstream.Msg{}}, nil
}

func (s *NATSSubscriber) Close() error {
	s.nc.Close()
	return nil
}

type natsSubscription struct {
	cons jetstream.Consumer
	wait time.Duration

	mu       sync.Mutex
	inflight map[string]jetstream.Msg
}

func (s *natsSubscription) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		batch, err := s.cons.Fetch(1, jetstream.FetchMaxWait(s.wait))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Message{}, ctxErr
			}
			return Message{}, fmt.Errorf("fetch: %w", err)
		}

		var got jetstream.Msg
		for m := range batch.Messages() {
			got = m
		}
		if berr := batch.Error(); berr != nil && !isFetchTimeout(berr) {
			return Message{}, fmt.Errorf("fetch: %w", berr)
		}
		if got == nil {
			continue
		}

		id := msgID(got)
		s.mu.Lock()
		s.inflight[id] = got
		s.mu.Unlock()
		return Message{Topic: got.Subject(), ID: id, Value: got.Data()}, nil
	}
}

func (s *natsSubscription) Ack(_ context.Context, msg Message) error {
	s.mu.Lock()
	m, ok := s.inflight[msg.ID]
	delete(s.inflight, msg.ID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("ack %s: message not in flight", msg.ID)
	}
	if err := m.Ack(); err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	return nil
}

// Close drops in-flight messages; the server redelivers them after AckWait.
func (s *natsSubscription) Close() error {
	s.mu.Lock()
	s.inflight = map[string]jetstream.Msg{}
	s.mu.Unlock()
	return nil
}

func msgID(m jetstream.Msg) string {
	meta, err := m.Metadata()
	if err != nil || meta == nil {
		return m.Subject()
	}
	return strconv.FormatUint(meta.Sequence.Stream, 10)
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
