package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_PropagatesRequestIDAndMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter("local", &buf)))

	var gotID string
	var gotMeta RequestMeta
	r.GET("/x", func(c *gin.Context) {
		gotID = RequestID(c.Request.Context())
		gotMeta = Meta(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	req.Header.Set("User-Agent", "dashboard/1.0")
	r.ServeHTTP(w, req)

	if gotID != "rid-1" {
		t.Fatalf("expected request id rid-1, got %q", gotID)
	}
	if w.Header().Get("X-Request-Id") != "rid-1" {
		t.Fatalf("expected request id echoed in response header")
	}
	if gotMeta.UserAgent != "dashboard/1.0" || gotMeta.Source != SourceAPI {
		t.Fatalf("unexpected meta: %+v", gotMeta)
	}
	if !strings.Contains(buf.String(), `"request_id":"rid-1"`) {
		t.Fatalf("expected request_id in log output, got %s", buf.String())
	}
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware(Discard()))
	var gotID string
	r.GET("/x", func(c *gin.Context) {
		gotID = RequestID(c.Request.Context())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if gotID == "" {
		t.Fatalf("expected generated request id")
	}
}
