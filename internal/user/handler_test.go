package user

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-service/internal/auth"
	"chat-service/internal/middleware"
	"chat-service/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func routerFor(repo AdminRepository, userID string) *gin.Engine {
	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		s := &session.Session{ID: "s-1", UserID: userID, Role: auth.RoleEndUser}
		c.Request = c.Request.WithContext(middleware.WithSession(c.Request.Context(), s))
		c.Next()
	})
	NewHandler(repo).RegisterRoutes(api)
	return r
}

func TestHandler_Me(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM users`).
		WithArgs("u-1", true).
		WillReturnRows(userRows().AddRow("u-1", "sub-1", "a@b.com", "A", "end-user", true, now, now))

	rec := httptest.NewRecorder()
	routerFor(repo, "u-1").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"a@b.com"`)
	assert.Contains(t, rec.Body.String(), `"role":"end-user"`)
}

func TestHandler_Me_Deactivated(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`FROM users`).
		WithArgs("u-1", true).
		WillReturnRows(userRows())

	rec := httptest.NewRecorder()
	routerFor(repo, "u-1").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
