package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"activity-platform/internal/broker"
	"activity-platform/internal/broker/brokertest"
	"activity-platform/pkg/logger"
)

type fakeSubscription struct {
	msgs chan broker.Message

	mu     sync.Mutex
	acked  []string
	closed bool
}

func (s *fakeSubscription) Next(ctx context.Context) (broker.Message, error) {
	select {
	case <-ctx.Done():
		return broker.Message{}, ctx.Err()
	case m := <-s.msgs:
		return m, nil
	}
}

func (s *fakeSubscription) Ack(_ context.Context, m broker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, m.ID)
	return nil
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

type fakeSubscriber struct {
	sub    *fakeSubscription
	closed bool
}

func (f *fakeSubscriber) Subscribe(context.Context, string, string) (broker.Subscription, error) {
	return f.sub, nil
}

func (f *fakeSubscriber) Close() error {
	f.closed = true
	return nil
}

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRun_Disabled(t *testing.T) {
	dialed := false
	c := New(Config{Enabled: false}, func(context.Context) (broker.Subscriber, error) {
		dialed = true
		return nil, errors.New("unexpected")
	}, HandlerFunc(func(context.Context, broker.Message) error { return nil }), logger.Discard())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if dialed || c.State() != StateStopped {
		t.Fatalf("disabled consumer must not dial (dialed=%v state=%s)", dialed, c.State())
	}
}

func TestRun_HandlesInOrderAndSurvivesFailures(t *testing.T) {
	sub := &fakeSubscription{msgs: make(chan broker.Message, 10)}
	subr := &fakeSubscriber{sub: sub}

	var (
		mu   sync.Mutex
		seen []string
	)
	h := HandlerFunc(func(_ context.Context, m broker.Message) error {
		mu.Lock()
		seen = append(seen, m.ID)
		mu.Unlock()
		switch m.ID {
		case "2":
			return errors.New("broadcast failed")
		case "3":
			panic("boom")
		}
		return nil
	})

	c := New(Config{Enabled: true, Topic: "user.activity", Group: "g"},
		func(context.Context) (broker.Subscriber, error) { return subr, nil },
		h, logger.Discard(), WithWait(noWait))

	for i := 1; i <= 5; i++ {
		sub.msgs <- broker.Message{Topic: "user.activity", ID: fmt.Sprint(i), Value: []byte(`{}`)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, func() bool { return len(sub.ackedIDs()) == 5 })
	if c.State() != StateRunning {
		t.Fatalf("expected running, got %s", c.State())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(seen) != "[1 2 3 4 5]" {
		t.Fatalf("unexpected handling order: %v", seen)
	}
	if fmt.Sprint(sub.ackedIDs()) != "[1 2 3 4 5]" {
		t.Fatalf("unexpected ack order: %v", sub.ackedIDs())
	}
	if !sub.closed || !subr.closed || c.State() != StateStopped {
		t.Fatalf("expected closed subscription and stopped state")
	}
}

func TestRun_SubscribeRetriesThenFails(t *testing.T) {
	attempts := 0
	c := New(Config{Enabled: true, Topic: "t", Group: "g", Attempts: 3},
		func(context.Context) (broker.Subscriber, error) {
			attempts++
			return nil, errors.New("connection refused")
		},
		HandlerFunc(func(context.Context, broker.Message) error { return nil }),
		logger.Discard(), WithWait(noWait))

	err := c.Run(context.Background())
	if !errors.Is(err, ErrSubscribe) {
		t.Fatalf("expected ErrSubscribe, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRun_NATS(t *testing.T) {
	url := brokertest.StartJetStream(t)
	opts := broker.Options{Driver: broker.DriverNATS, Addrs: []string{url}, ClientID: "consumer-test", PollWait: 100 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prod, err := broker.DialProducer(ctx, opts)
	if err != nil {
		t.Fatalf("dial producer: %v", err)
	}
	defer prod.Close()

	got := make(chan string, 10)
	c := New(Config{Enabled: true, Topic: "user.activity", Group: "admin-monitor-group"},
		func(ctx context.Context) (broker.Subscriber, error) { return broker.DialSubscriber(ctx, opts) },
		HandlerFunc(func(_ context.Context, m broker.Message) error {
			got <- string(m.Value)
			return nil
		}),
		logger.Discard())

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	for i := 0; i < 3; i++ {
		if err := prod.Send(ctx, "user.activity", []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case v := <-got:
			if want := fmt.Sprintf(`{"n":%d}`, i); v != want {
				t.Fatalf("message %d: got %s want %s", i, v, want)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for messages")
		}
	}

	stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
