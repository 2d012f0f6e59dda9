package httpapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"activity-platform/internal/activity"
	"activity-platform/internal/broadcast"
	"activity-platform/internal/broker"
	"activity-platform/internal/broker/brokertest"
	"activity-platform/internal/event"
	"activity-platform/internal/tasks"
)

func newPipelineApp(t *testing.T) *testApp {
	t.Helper()
	url := brokertest.StartJetStream(t)
	return newTestApp(t, &broker.Options{
		Driver:   broker.DriverNATS,
		Addrs:    []string{url},
		ClientID: "pipeline-test",
		PollWait: 100 * time.Millisecond,
	})
}

func connectObserver(t *testing.T, app *testApp) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(app.wsURL(app.adminToken(t)), nil)
	if err != nil {
		t.Fatalf("dial observer: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitUntil(t, "observer registration", func() bool { return app.hub.Count() == 1 })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (broadcast.Frame, event.Envelope) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame broadcast.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := event.Decode(frame.Event)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return frame, env
}

func TestPipeline_TaskCreatedReachesObserver(t *testing.T) {
	app := newPipelineApp(t)
	conn := connectObserver(t, app)

	app.register(t, "ann@example.com")
	tok := app.login(t, "/v1/auth/login", "ann@example.com", "long-enough")

	res := app.do(t, http.MethodPost, "/v1/tasks", tok, map[string]any{"title": "ship it"}, "X-Request-Id", "req-e2e-1")
	if res.code != http.StatusCreated {
		t.Fatalf("create: %d %s", res.code, res.body)
	}
	var task tasks.Task
	res.decode(t, &task)

	frame, env := readEnvelope(t, conn)
	if frame.Topic != testTopic {
		t.Fatalf("unexpected topic %q", frame.Topic)
	}
	if env.EventType != "task.created" || env.RequestID != "req-e2e-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Resource != (event.Resource{Type: event.ResourceTask, ID: task.ID}) {
		t.Fatalf("unexpected resource: %+v", env.Resource)
	}
	if env.Actor.Email != "ann@example.com" || env.Payload["title"] != "ship it" {
		t.Fatalf("unexpected actor or payload: %+v", env)
	}

	// The record is written before the event is published.
	records := app.activities.Records()
	if len(records) != 1 || records[0].Type != activity.TaskCreated || records[0].RequestID != "req-e2e-1" {
		t.Fatalf("unexpected activity records: %+v", records)
	}
	if records[0].TaskID == nil || *records[0].TaskID != task.ID {
		t.Fatalf("record not linked to task %d: %+v", task.ID, records[0])
	}

	// Exactly one broadcast.
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected no further frames, got %v", err)
	}
}

func TestPipeline_ObserverSeesActivitiesInOrder(t *testing.T) {
	app := newPipelineApp(t)
	conn := connectObserver(t, app)

	app.register(t, "ann@example.com")
	tok := app.login(t, "/v1/auth/login", "ann@example.com", "long-enough")

	const n = 10
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		res := app.do(t, http.MethodPost, "/v1/tasks", tok, map[string]any{"title": fmt.Sprintf("task %d", i)})
		if res.code != http.StatusCreated {
			t.Fatalf("create %d: %d", i, res.code)
		}
		var task tasks.Task
		res.decode(t, &task)
		ids = append(ids, task.ID)
	}

	for i := 0; i < n; i++ {
		_, env := readEnvelope(t, conn)
		if env.Resource.ID != ids[i] {
			t.Fatalf("event %d: got task %d want %d", i, env.Resource.ID, ids[i])
		}
	}

	records := app.activities.Records()
	if len(records) != n {
		t.Fatalf("expected %d records, got %d", n, len(records))
	}
	for i, r := range records {
		if *r.TaskID != ids[i] {
			t.Fatalf("record %d: got task %d want %d", i, *r.TaskID, ids[i])
		}
	}
}

func TestPipeline_ProfileUpdate(t *testing.T) {
	app := newPipelineApp(t)
	conn := connectObserver(t, app)

	app.register(t, "ann@example.com")
	tok := app.login(t, "/v1/auth/login", "ann@example.com", "long-enough")

	res := app.do(t, http.MethodPatch, "/v1/users/me/profile", tok, map[string]any{"bio": "hello"})
	if res.code != http.StatusOK {
		t.Fatalf("profile: %d %s", res.code, res.body)
	}

	_, env := readEnvelope(t, conn)
	if env.EventType != "profile.updated" || env.Resource.Type != event.ResourceUser {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	changes, ok := env.Payload["changes"].(map[string]any)
	if !ok || changes["bio"] == nil {
		t.Fatalf("expected bio change in payload, got %v", env.Payload)
	}
	if env.Meta["source"] != "api" {
		t.Fatalf("expected api source in meta, got %v", env.Meta)
	}
}

func TestPipeline_RejectedObserverIsNotRegistered(t *testing.T) {
	app := newPipelineApp(t)

	conn, _, err := websocket.DefaultDialer.Dial(app.wsURL("expired-or-bogus"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if app.hub.Count() != 0 {
		t.Fatalf("rejected observer registered, count=%d", app.hub.Count())
	}
}
