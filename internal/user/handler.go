package user

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-service/internal/auth"
	"chat-service/internal/logger"
	"chat-service/internal/middleware"
)

type Handler struct {
	repo AdminRepository
}

func NewHandler(repo AdminRepository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes mounts the self-service routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/users/me", h.Me)
}

// RegisterAdminRoutes mounts user administration. The group must already
// require the admin role.
func (h *Handler) RegisterAdminRoutes(r gin.IRoutes) {
	r.GET("/users", h.List)
	r.GET("/users/:id", h.Get)
	r.PUT("/users/:id", h.Update)
	r.DELETE("/users/:id", h.Deactivate)
}

// Me returns the stored profile of the authenticated user.
func (h *Handler) Me(c *gin.Context) {
	s, _ := middleware.CurrentSession(c)
	h.respondUser(c, s.UserID)
}

func (h *Handler) Get(c *gin.Context) {
	h.respondUser(c, c.Param("id"))
}

func (h *Handler) respondUser(c *gin.Context, id string) {
	u, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found"})
		return
	}
	if err != nil {
		logger.Error("load user failed", map[string]any{
			"user_id": id,
			"error":   err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
}

func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	p, err := h.repo.List(c.Request.Context(), page, limit)
	if err != nil {
		logger.Error("list users failed", map[string]any{"error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": p})
}

type updateRequest struct {
	Role   auth.Role `json:"role"`
	Action string    `json:"action"`
}

// Update changes a user's role, or reactivates the user when action is
// "reactivate". Either change applies to live sessions on their next request.
func (h *Handler) Update(c *gin.Context) {
	admin, _ := middleware.CurrentSession(c)
	id := c.Param("id")

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	var (
		u   *User
		err error
	)
	switch {
	case req.Action == "reactivate":
		u, err = h.repo.Reactivate(c.Request.Context(), id)
	case req.Action != "":
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_action"})
		return
	case !req.Role.Valid():
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_role"})
		return
	default:
		u, err = h.repo.UpdateRole(c.Request.Context(), id, req.Role)
	}
	if !h.writeMutation(c, u, err, id) {
		return
	}

	logger.Info("user updated", map[string]any{
		"admin_id": admin.UserID,
		"user_id":  id,
		"role":     u.Role,
		"action":   req.Action,
	})
}

// Deactivate soft-deletes a user. Admins cannot deactivate themselves.
func (h *Handler) Deactivate(c *gin.Context) {
	admin, _ := middleware.CurrentSession(c)
	id := c.Param("id")

	if id == admin.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "cannot_deactivate_self"})
		return
	}

	u, err := h.repo.Deactivate(c.Request.Context(), id)
	if !h.writeMutation(c, u, err, id) {
		return
	}

	logger.Info("user deactivated", map[string]any{
		"admin_id": admin.UserID,
		"user_id":  id,
	})
}

func (h *Handler) writeMutation(c *gin.Context, u *User, err error, id string) bool {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found"})
		return false
	}
	if err != nil {
		logger.Error("user update failed", map[string]any{
			"user_id": id,
			"error":   err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
		return false
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
	return true
}
