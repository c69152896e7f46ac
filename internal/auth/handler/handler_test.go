package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-service/internal/auth"
	"chat-service/internal/auth/provider"
	"chat-service/internal/auth/state"
	"chat-service/internal/session"
	"chat-service/internal/user"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	mu       sync.Mutex
	n        int
	identity *auth.Identity
	err      error
	last     provider.Exchange
}

func (p *stubProvider) AuthorizationRequest(context.Context) (*provider.AuthRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	st := fmt.Sprintf("state-%d", p.n)
	return &provider.AuthRequest{
		URL:          "https://idp.example.com/authorize?state=" + st,
		State:        st,
		Nonce:        fmt.Sprintf("nonce-%d", p.n),
		CodeVerifier: fmt.Sprintf("verifier-%d", p.n),
		RedirectURI:  "http://localhost:3000/callback",
	}, nil
}

func (p *stubProvider) ExchangeCode(_ context.Context, ex provider.Exchange) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = ex
	if p.err != nil {
		return nil, p.err
	}
	id := *p.identity
	return &id, nil
}

type fakeUsers struct {
	mu       sync.Mutex
	bySub    map[string]*user.User
	inactive bool
	err      error
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.bySub {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (f *fakeUsers) CreateOrUpdate(_ context.Context, id auth.Identity, role auth.Role) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.bySub[id.Subject]
	if !ok {
		u = &user.User{ID: "user-" + id.Subject, EntraID: id.Subject, Role: role}
		f.bySub[id.Subject] = u
	}
	u.Email = id.Email
	u.DisplayName = id.DisplayName
	u.IsActive = !f.inactive
	cp := *u
	return &cp, nil
}

type fixture struct {
	mr       *miniredis.Miniredis
	provider *stubProvider
	users    *fakeUsers
	manager  *session.Manager
	router   *gin.Engine

	mu     sync.Mutex
	offset time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		mr: mr,
		provider: &stubProvider{identity: &auth.Identity{
			Subject: "sub-1", Email: "ada@example.com", DisplayName: "Ada", AccessToken: "at",
		}},
		users: &fakeUsers{bySub: map[string]*user.User{}},
	}

	base := time.Now().Truncate(time.Second)
	clock := func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return base.Add(f.offset)
	}

	codec, err := session.NewTokenCodec([]byte("0123456789abcdef0123456789abcdef"), "chat-service", clock)
	require.NoError(t, err)
	f.manager = session.NewManager(session.NewRedisStore(client), codec, session.ManagerConfig{
		Timeout:          8 * time.Hour,
		RefreshThreshold: time.Hour,
		Now:              clock,
	})

	f.router = gin.New()
	NewHandler(f.provider, state.NewRedisStore(client, 10*time.Minute), f.users, f.manager, session.CookieOptions{}).
		RegisterRoutes(f.router)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.offset += d
	f.mu.Unlock()
}

func (f *fixture) do(method, target string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// login runs /login and returns the state placed in the store.
func (f *fixture) login(t *testing.T) string {
	t.Helper()
	rec := f.do(http.MethodGet, "/login", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	st := loc.Query().Get("state")
	require.NotEmpty(t, st)
	return st
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", session.CookieName)
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLogin_StoresState(t *testing.T) {
	f := newFixture(t)

	st := f.login(t)

	assert.True(t, f.mr.Exists("oidc:state:"+st))
	assert.Equal(t, 10*time.Minute, f.mr.TTL("oidc:state:"+st))
}

func TestLogin_ErrorLanding(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/login?error=invalid_state", nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid_state", body["error"])
	assert.Empty(t, f.mr.Keys())
}

func TestCallback_Success(t *testing.T) {
	f := newFixture(t)
	st := f.login(t)

	rec := f.do(http.MethodGet, "/callback?code=abc&state="+st, nil)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	c := sessionCookie(t, rec)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, int((8 * time.Hour).Seconds()), c.MaxAge)

	assert.Equal(t, "abc", f.provider.last.Code)
	assert.Equal(t, "verifier-1", f.provider.last.CodeVerifier)
	assert.Equal(t, "nonce-1", f.provider.last.Nonce)
	assert.Equal(t, st, f.provider.last.State)

	rec = f.do(http.MethodGet, "/session", c)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["authenticated"])
	u := body["user"].(map[string]any)
	assert.Equal(t, "user-sub-1", u["id"])
	assert.Equal(t, "ada@example.com", u["email"])
	assert.Equal(t, "Ada", u["display_name"])
	assert.Equal(t, "end-user", u["role"])
	assert.Contains(t, body["session"], "expires_at")
}

func TestCallback_ReplayedState(t *testing.T) {
	f := newFixture(t)
	st := f.login(t)

	rec := f.do(http.MethodGet, "/callback?code=abc&state="+st, nil)
	require.Equal(t, "/", rec.Header().Get("Location"))

	rec = f.do(http.MethodGet, "/callback?code=abc&state="+st, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=invalid_state", rec.Header().Get("Location"))
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestCallback_ExpiredState(t *testing.T) {
	f := newFixture(t)
	st := f.login(t)
	f.mr.FastForward(11 * time.Minute)

	rec := f.do(http.MethodGet, "/callback?code=abc&state="+st, nil)
	assert.Equal(t, "/login?error=invalid_state", rec.Header().Get("Location"))
}

func TestCallback_Failures(t *testing.T) {
	cases := []struct {
		name     string
		query    func(st string) string
		setup    func(f *fixture)
		expected string
	}{
		{
			name:     "provider access denied",
			query:    func(string) string { return "error=access_denied&error_description=user+cancelled" },
			expected: ReasonAccessDenied,
		},
		{
			name:     "provider other error",
			query:    func(string) string { return "error=server_error" },
			expected: ReasonAuthenticationFailed,
		},
		{
			name:     "missing code",
			query:    func(st string) string { return "state=" + st },
			expected: ReasonInvalidCallback,
		},
		{
			name:     "missing state",
			query:    func(string) string { return "code=abc" },
			expected: ReasonInvalidCallback,
		},
		{
			name:     "unknown state",
			query:    func(string) string { return "code=abc&state=forged" },
			expected: ReasonInvalidState,
		},
		{
			name:  "nonce mismatch",
			query: func(st string) string { return "code=abc&state=" + st },
			setup: func(f *fixture) {
				f.provider.err = &provider.TokenExchangeError{Reason: provider.ReasonInvalidNonce}
			},
			expected: ReasonInvalidNonce,
		},
		{
			name:  "no id token",
			query: func(st string) string { return "code=abc&state=" + st },
			setup: func(f *fixture) {
				f.provider.err = &provider.TokenExchangeError{Reason: provider.ReasonNoIDToken}
			},
			expected: ReasonNoIDToken,
		},
		{
			name:  "invalid id token",
			query: func(st string) string { return "code=abc&state=" + st },
			setup: func(f *fixture) {
				f.provider.err = &provider.TokenExchangeError{Reason: provider.ReasonInvalidIDToken, Err: errors.New("bad sig")}
			},
			expected: ReasonAuthenticationFailed,
		},
		{
			name:  "user store down",
			query: func(st string) string { return "code=abc&state=" + st },
			setup: func(f *fixture) {
				f.users.err = errors.New("db down")
			},
			expected: ReasonAuthenticationFailed,
		},
		{
			name:  "deactivated user",
			query: func(st string) string { return "code=abc&state=" + st },
			setup: func(f *fixture) {
				f.users.inactive = true
			},
			expected: ReasonAccessDenied,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			st := f.login(t)

			rec := f.do(http.MethodGet, "/callback?"+tc.query(st), nil)

			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/login?error="+tc.expected, rec.Header().Get("Location"))
			assert.Empty(t, rec.Header().Values("Set-Cookie"))
			assertNoSessions(t, f.mr)
		})
	}
}

func assertNoSessions(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	for _, k := range mr.Keys() {
		assert.False(t, strings.HasPrefix(k, "session:"), "unexpected session record %s", k)
	}
}

type failingCreate struct {
	Sessions
}

func (failingCreate) Create(context.Context, session.Principal) (*session.Session, string, error) {
	return nil, "", errors.New("redis: connection refused")
}

func TestCallback_SessionCreationFailed(t *testing.T) {
	f := newFixture(t)
	client := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	NewHandler(f.provider, state.NewRedisStore(client, 0), f.users, failingCreate{f.manager}, session.CookieOptions{}).
		RegisterRoutes(r)
	f.router = r

	st := f.login(t)
	rec := f.do(http.MethodGet, "/callback?code=abc&state="+st, nil)

	assert.Equal(t, "/login?error="+ReasonSessionCreationFailed, rec.Header().Get("Location"))
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestCallback_StateStoreDown(t *testing.T) {
	f := newFixture(t)
	st := f.login(t)
	f.mr.SetError("ERR store unavailable")

	rec := f.do(http.MethodGet, "/callback?code=abc&state="+st, nil)

	assert.Equal(t, "/login?error="+ReasonAuthenticationFailed, rec.Header().Get("Location"))
}

func TestCookie_SecureInProduction(t *testing.T) {
	f := newFixture(t)
	client := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	NewHandler(f.provider, state.NewRedisStore(client, 0), f.users, f.manager, session.CookieOptions{Secure: true}).
		RegisterRoutes(r)
	f.router = r

	c := f.authenticate(t)
	assert.True(t, c.Secure)
}

func (f *fixture) authenticate(t *testing.T) *http.Cookie {
	t.Helper()
	st := f.login(t)
	rec := f.do(http.MethodGet, "/callback?code=abc&state="+st, nil)
	require.Equal(t, "/", rec.Header().Get("Location"))
	return sessionCookie(t, rec)
}

func TestSession_Anonymous(t *testing.T) {
	f := newFixture(t)

	for _, c := range []*http.Cookie{nil, {Name: session.CookieName, Value: "garbage"}} {
		rec := f.do(http.MethodGet, "/session", c)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["authenticated"])
		assert.Nil(t, body["user"])
	}
}

func TestSession_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	c := f.authenticate(t)

	f.advance(8*time.Hour + time.Second)

	rec := f.do(http.MethodGet, "/session", c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["authenticated"])
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	c := f.authenticate(t)

	rec := f.do(http.MethodPost, "/session/refresh", c)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	f.advance(7*time.Hour + 30*time.Minute)

	rec = f.do(http.MethodPost, "/session/refresh", c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	next := sessionCookie(t, rec)
	assert.NotEqual(t, c.Value, next.Value)

	// the old token died with the rotation
	assert.Equal(t, false, decode(t, f.do(http.MethodGet, "/session", c))["authenticated"])
	assert.Equal(t, true, decode(t, f.do(http.MethodGet, "/session", next))["authenticated"])
}

func TestRefresh_NoSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/session/refresh", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/session/refresh", &http.Cookie{Name: session.CookieName, Value: "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	c := f.authenticate(t)

	rec := f.do(http.MethodPost, "/logout", c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")

	assert.Equal(t, false, decode(t, f.do(http.MethodGet, "/session", c))["authenticated"])

	// idempotent
	rec = f.do(http.MethodPost, "/logout", c)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	c := f.authenticate(t)
	f.mr.SetError("ERR store unavailable")

	rec := f.do(http.MethodPost, "/logout", c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "logout_failed", decode(t, rec)["error"])
	assert.Empty(t, rec.Header().Get("Set-Cookie"))

	f.mr.SetError("")
	assert.Equal(t, true, decode(t, f.do(http.MethodGet, "/session", c))["authenticated"])
}
