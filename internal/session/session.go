// Package session serves the admin activity websocket. Each connection is
// authenticated from its token query parameter, registered with the hub and
// kept open until the dashboard goes away.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"activity-platform/internal/auth"
	"activity-platform/internal/broadcast"
	"activity-platform/internal/users"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// AdminLookup resolves a user id to a live administrator.
type AdminLookup interface {
	ActiveAdmin(ctx context.Context, id int64) (users.User, error)
}

type TokenVerifier interface {
	Verify(token string, expected auth.TokenType, now time.Time) (auth.Claims, error)
}

var errMissingToken = errors.New("missing token")

type Handler struct {
	hub      *broadcast.Hub
	tokens   TokenVerifier
	admins   AdminLookup
	log      *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewHandler(hub *broadcast.Hub, tokens TokenVerifier, admins AdminLookup, log *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		tokens: tokens,
		admins: admins,
		log:    log.With("component", "session"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards authenticate with a token, not cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Serve is the gin handler for GET /ws/admin/activity?token=...
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	ctx := c.Request.Context()

	admin, err := h.authenticate(ctx, c.Query("token"))
	if err != nil {
		h.log.Warn("observer rejected", "remote", c.ClientIP(), "err", err)
		reject(conn, websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	obs := newObserver(conn)
	if !h.hub.Connect(obs) {
		reject(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	log := h.log.With("admin_id", admin.ID)
	log.Info("observer connected", "observers", h.hub.Count())

	defer func() {
		h.hub.Disconnect(obs)
		_ = obs.Close()
		log.Info("observer disconnected", "observers", h.hub.Count())
	}()

	done := make(chan struct{})
	defer close(done)
	go obs.keepAlive(done)

	readUntilClosed(conn)
}

func (h *Handler) authenticate(ctx context.Context, token string) (users.User, error) {
	if token == "" {
		return users.User{}, errMissingToken
	}
	claims, err := h.tokens.Verify(token, auth.TokenTypeAccess, h.now())
	if err != nil {
		return users.User{}, err
	}
	return h.admins.ActiveAdmin(ctx, claims.UserID)
}

// readUntilClosed drains inbound frames. Dashboards only send keep-alives.
func readUntilClosed(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func reject(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// observer adapts a websocket connection to broadcast.Observer.
type observer struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer.
	mu        sync.Mutex
	closeOnce sync.Once
}

func newObserver(conn *websocket.Conn) *observer {
	return &observer{conn: conn}
}

func (o *observer) Send(ctx context.Context, f broadcast.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := o.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return o.conn.WriteJSON(f)
}

func (o *observer) Close() error {
	var err error
	o.closeOnce.Do(func() { err = o.conn.Close() })
	return err
}

func (o *observer) keepAlive(done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
