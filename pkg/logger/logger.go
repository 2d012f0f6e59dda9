package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns a production-friendly structured logger.
// No business logic should depend on logging implementation details.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(appEnv, os.Stdout)
}

func NewWithWriter(appEnv string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// Discard is a logger that drops every record. Used by tests and by
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey int

const (
	ctxLogger ctxKey = iota
	ctxRequestID
	ctxRequestMeta
)

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogger, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxLogger); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// RequestMeta describes where a request came from. It travels with activity
// events as their meta block.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	Source    string
}

func (m RequestMeta) Map() map[string]any {
	return map[string]any{
		"ip_address": m.IPAddress,
		"user_agent": m.UserAgent,
		"source":     m.Source,
	}
}

func WithRequest(ctx context.Context, requestID string, meta RequestMeta) context.Context {
	ctx = context.WithValue(ctx, ctxRequestID, requestID)
	return context.WithValue(ctx, ctxRequestMeta, meta)
}

// RequestID returns the request id stored by the middleware, or "" outside a request.
func RequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxRequestID).(string); ok {
		return s
	}
	return ""
}

func Meta(ctx context.Context) RequestMeta {
	if m, ok := ctx.Value(ctxRequestMeta).(RequestMeta); ok {
		return m
	}
	return RequestMeta{}
}
