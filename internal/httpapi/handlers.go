package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"activity-platform/internal/activity"
	"activity-platform/internal/auth"
	"activity-platform/internal/reporting"
	"activity-platform/internal/tasks"
	"activity-platform/internal/users"
	"activity-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Users      *users.Service
	Tasks      *tasks.Service
	Activities activity.Repository
	Reports    *reporting.Service
}

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// --- Auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h Handlers) Register(c *gin.Context) {
	var req users.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := h.Users.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// Login issues an access token for any active user.
func (h Handlers) Login(c *gin.Context) {
	h.login(c, h.Users.Authenticate)
}

// LoginAdmin is Login restricted to administrators, used by the dashboard.
func (h Handlers) LoginAdmin(c *gin.Context) {
	h.login(c, h.Users.AuthenticateAdmin)
}

func (h Handlers) login(c *gin.Context, authenticate func(ctx context.Context, email, password string) (users.User, error)) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	tok, err := h.Auth.IssueAccess(time.Now(), auth.Identity{UserID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin})
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.Auth.AccessTTL().Seconds()),
	})
}

// --- Users ---

// currentUser resolves the token identity to a live account. Tokens of
// deleted users are rejected here.
func (h Handlers) currentUser(c *gin.Context) (users.User, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return users.User{}, false
	}
	u, err := h.Users.Active(c.Request.Context(), uid)
	if errors.Is(err, users.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not found"})
		return users.User{}, false
	}
	if err != nil {
		writeError(c, err)
		return users.User{}, false
	}
	return u, true
}

func (h Handlers) Me(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h Handlers) UpdateProfile(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req users.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	updated, err := h.Users.UpdateProfile(c.Request.Context(), u.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// --- Tasks ---

func (h Handlers) ListTasks(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	list, err := h.Tasks.List(c.Request.Context(), u.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h Handlers) CreateTask(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req tasks.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	t, err := h.Tasks.Create(c.Request.Context(), users.ActorOf(u), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h Handlers) GetTask(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}
	t, err := h.Tasks.Get(c.Request.Context(), u.ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h Handlers) UpdateTask(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req tasks.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	t, err := h.Tasks.Update(c.Request.Context(), users.ActorOf(u), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h Handlers) DeleteTask(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := h.Tasks.Delete(c.Request.Context(), users.ActorOf(u), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return id, true
}

// --- Admin ---

// ListActivities returns the most recent activity records, newest first.
// RBAC: admin.
func (h Handlers) ListActivities(c *gin.Context) {
	if !h.activeAdmin(c) {
		return
	}

	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxActivityLimit)
	}

	records, err := h.Activities.ListRecent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []activity.Record{}
	}
	c.JSON(http.StatusOK, records)
}

// ActivitySummary aggregates activity over ?from=&to= (RFC 3339, default the
// last 24 hours), optionally for one ?user_id=.
// RBAC: admin.
func (h Handlers) ActivitySummary(c *gin.Context) {
	if !h.activeAdmin(c) {
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		from = to.Add(-24 * time.Hour)
	}
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	req := reporting.SummaryRequest{Range: reporting.TimeRange{From: from, To: to}}
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		req.UserID = &id
	}

	out, err := h.Reports.ActivitySummary(c.Request.Context(), req)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// activeAdmin re-checks the account so a demoted or deleted admin's token
// stops working before it expires.
func (h Handlers) activeAdmin(c *gin.Context) bool {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return false
	}
	if _, err := h.Users.ActiveAdmin(c.Request.Context(), uid); err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// writeError maps service errors to status codes. Unknown errors are logged
// and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, users.ErrInvalidInput), errors.Is(err, tasks.ErrInvalidInput):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, users.ErrEmailTaken):
		status, msg = http.StatusConflict, "email already registered"
	case errors.Is(err, users.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, users.ErrNotAdmin), errors.Is(err, tasks.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, tasks.ErrNotFound), errors.Is(err, users.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, tasks.ErrParentNotFound):
		status, msg = http.StatusNotFound, "parent task not found"
	default:
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
