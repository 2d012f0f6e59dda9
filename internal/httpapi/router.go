package httpapi

import (
	"log/slog"
	"net/http"

	"activity-platform/internal/auth"
	"activity-platform/internal/dashboard"
	"activity-platform/internal/metrics"
	"activity-platform/internal/rbac"
	"activity-platform/internal/session"
	"activity-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusFunc reports component state for /healthz.
type StatusFunc func() map[string]any

type RouterDeps struct {
	Log      *slog.Logger
	Metrics  *metrics.Registry
	Handlers Handlers
	Sessions *session.Handler
	Status   StatusFunc
}

// NewRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(d.Log))
	if d.Metrics != nil {
		r.Use(metrics.Middleware(d.Metrics))
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if d.Status != nil {
			for k, v := range d.Status() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	// The dashboard authenticates with ?token= because browsers cannot set
	// headers on websocket requests.
	if d.Sessions != nil {
		r.GET("/ws/admin/activity", d.Sessions.Serve)
		dashboard.Mount(r)
	}

	h := d.Handlers
	v1 := r.Group("/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/login/admin", h.LoginAdmin)
	}

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(h.Auth))
	{
		me := protected.Group("/users/me")
		me.Use(rbac.RequireAnyRole(rbac.RoleUser))
		{
			me.GET("", h.Me)
			me.PATCH("/profile", h.UpdateProfile)
		}

		tasksGroup := protected.Group("/tasks")
		tasksGroup.Use(rbac.RequireAnyRole(rbac.RoleUser))
		{
			tasksGroup.GET("", h.ListTasks)
			tasksGroup.POST("", h.CreateTask)
			tasksGroup.GET("/:task_id", h.GetTask)
			tasksGroup.PATCH("/:task_id", h.UpdateTask)
			tasksGroup.DELETE("/:task_id", h.DeleteTask)
		}

		admin := protected.Group("/admin")
		admin.Use(rbac.RequireAdmin())
		{
			admin.GET("/activities", h.ListActivities)
			admin.GET("/activities/summary", h.ActivitySummary)
		}
	}

	return r
}
