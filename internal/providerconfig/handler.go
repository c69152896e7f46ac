package providerconfig

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-service/internal/logger"
)

// Store is the part of Repository the admin API needs.
type Store interface {
	Get(ctx context.Context, organizationID string) (*Config, error)
	Upsert(ctx context.Context, in Input) (*Config, error)
	MarkTested(ctx context.Context, organizationID string, valid bool) error
	Delete(ctx context.Context, organizationID string) error
}

// Tester checks that a registration can reach its identity provider.
type Tester func(ctx context.Context, cfg *Config) error

const testTimeout = 10 * time.Second

// Handler exposes the admin API. Routes must be guarded by
// middleware.RequireRole(auth.RoleAdmin).
type Handler struct {
	store          Store
	organizationID string
	test           Tester
}

func NewHandler(store Store, organizationID string, test Tester) *Handler {
	return &Handler{store: store, organizationID: organizationID, test: test}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/provider-config", h.Get)
	r.PUT("/provider-config", h.Put)
	r.DELETE("/provider-config", h.Delete)
	r.POST("/provider-config/test", h.Test)
}

func (h *Handler) Get(c *gin.Context) {
	cfg, err := h.store.Get(c.Request.Context(), h.organizationID)
	if !h.ok(c, err, "load provider config failed") {
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg.Safe()})
}

type putRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
	TenantID     string `json:"tenant_id" binding:"required"`
	RedirectURI  string `json:"redirect_uri" binding:"required"`
}

func (h *Handler) Put(c *gin.Context) {
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	cfg, err := h.store.Upsert(c.Request.Context(), Input{
		OrganizationID: h.organizationID,
		ClientID:       req.ClientID,
		ClientSecret:   req.ClientSecret,
		TenantID:       req.TenantID,
		RedirectURI:    req.RedirectURI,
	})
	if errors.Is(err, ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request", "details": err.Error()})
		return
	}
	if !h.ok(c, err, "save provider config failed") {
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg.Safe()})
}

func (h *Handler) Delete(c *gin.Context) {
	err := h.store.Delete(c.Request.Context(), h.organizationID)
	if !h.ok(c, err, "delete provider config failed") {
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Test runs discovery against the stored registration and records the
// outcome. A failed test is a valid response, not a server error.
func (h *Handler) Test(c *gin.Context) {
	ctx := c.Request.Context()

	cfg, err := h.store.Get(ctx, h.organizationID)
	if !h.ok(c, err, "load provider config failed") {
		return
	}

	testCtx, cancel := context.WithTimeout(ctx, testTimeout)
	testErr := h.test(testCtx, cfg)
	cancel()

	valid := testErr == nil
	if err := h.store.MarkTested(ctx, h.organizationID, valid); !h.ok(c, err, "record provider config test failed") {
		return
	}

	resp := gin.H{"success": true, "valid": valid}
	if testErr != nil {
		logger.Warn("provider config test failed", map[string]any{
			"organization_id": h.organizationID,
			"error":           testErr,
		})
		resp["error"] = testErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// ok writes the error response for err and reports whether the handler
// should continue.
func (h *Handler) ok(c *gin.Context, err error, msg string) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found"})
		return false
	}
	logger.Error(msg, map[string]any{
		"organization_id": h.organizationID,
		"error":           err,
	})
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
	return false
}
