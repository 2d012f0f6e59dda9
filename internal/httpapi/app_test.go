package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"activity-platform/internal/activity"
	"activity-platform/internal/auth"
	"activity-platform/internal/broadcast"
	"activity-platform/internal/broker"
	"activity-platform/internal/config"
	"activity-platform/internal/consumer"
	"activity-platform/internal/metrics"
	"activity-platform/internal/publisher"
	"activity-platform/internal/reporting"
	"activity-platform/internal/session"
	"activity-platform/internal/tasks"
	"activity-platform/internal/users"
	"activity-platform/pkg/logger"
)

const testTopic = "user.activity"

// testApp is the full process graph on in-memory repositories. With a broker
// the pipeline publishes to it and a consumer relays into the hub.
type testApp struct {
	srv        *httptest.Server
	users      *users.Service
	activities *activity.MemoryRepo
	dispatcher *activity.Dispatcher
	hub        *broadcast.Hub
	metrics    *metrics.Registry
}

func newTestApp(t *testing.T, brokerOpts *broker.Options) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Discard()
	reg := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())

	pubCfg := publisher.Config{Enabled: brokerOpts != nil, Attempts: 1}
	pub := publisher.New(pubCfg, func(ctx context.Context) (broker.Producer, error) {
		return broker.DialProducer(ctx, *brokerOpts)
	}, log, publisher.WithMetrics(reg))
	if err := pub.Start(ctx); err != nil {
		t.Fatalf("publisher start: %v", err)
	}

	activities := activity.NewMemoryRepo()
	recorder := activity.NewRecorder(activities, publisher.NewMetricsPublisher(pub, reg), testTopic, log, reg)
	dispatcher := activity.NewDispatcher(recorder, 1, 64, log, reg)

	usersSvc := users.NewService(users.NewMemoryRepo(), dispatcher)
	tasksSvc := tasks.NewService(tasks.NewMemoryRepo(), dispatcher)

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "activity", AccessTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	hub := broadcast.NewHub(time.Second, log, reg)

	cons := consumer.New(consumer.Config{
		Enabled:  brokerOpts != nil,
		Topic:    testTopic,
		Group:    "admin-monitor-group",
		Attempts: 1,
	}, func(ctx context.Context) (broker.Subscriber, error) {
		return broker.DialSubscriber(ctx, *brokerOpts)
	}, consumer.HandlerFunc(hub.Relay), log, consumer.WithMetrics(reg))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		_ = cons.Run(ctx)
	}()

	router := NewRouter(RouterDeps{
		Log:     log,
		Metrics: reg,
		Handlers: Handlers{
			Auth:       tokens,
			Users:      usersSvc,
			Tasks:      tasksSvc,
			Activities: activities,
			Reports:    reporting.NewService(activities),
		},
		Sessions: session.NewHandler(hub, tokens, usersSvc, log),
		Status: func() map[string]any {
			return map[string]any{
				"publisher": string(pub.State()),
				"consumer":  string(cons.State()),
				"observers": hub.Count(),
			}
		},
	})
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer drainCancel()
		_ = dispatcher.Drain(drainCtx)
		cancel()
		<-consumerDone
		_ = pub.Close()
	})

	return &testApp{
		srv:        srv,
		users:      usersSvc,
		activities: activities,
		dispatcher: dispatcher,
		hub:        hub,
		metrics:    reg,
	}
}

type response struct {
	code int
	body []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.body, v); err != nil {
		t.Fatalf("decode %s: %v", r.body, err)
	}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any, headers ...string) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res, err := a.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(res.Body)
	return response{code: res.StatusCode, body: out.Bytes()}
}

func (a *testApp) register(t *testing.T, email string) {
	t.Helper()
	res := a.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": email, "password": "long-enough", "firstname": "Test", "lastname": "User",
	})
	if res.code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, res.code, res.body)
	}
}

func (a *testApp) login(t *testing.T, path, email, password string) string {
	t.Helper()
	res := a.do(t, http.MethodPost, path, "", map[string]string{"email": email, "password": password})
	if res.code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, res.code, res.body)
	}
	var tok tokenResponse
	res.decode(t, &tok)
	return tok.AccessToken
}

func (a *testApp) adminToken(t *testing.T) string {
	t.Helper()
	if _, _, err := a.users.EnsureAdmin(context.Background(), "root@example.com", "admin-password"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	return a.login(t, "/v1/auth/login/admin", "root@example.com", "admin-password")
}

func (a *testApp) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws/admin/activity?token=" + token
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
