package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gear-rental/internal/config"
	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/service"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type fakeSessions map[string]model.UserView

func (f fakeSessions) Validate(_ context.Context, token string) (model.UserView, error) {
	if token == "expired" {
		return model.UserView{}, service.ErrSessionExpired
	}
	u, ok := f[token]
	if !ok {
		return model.UserView{}, service.ErrInvalidSession
	}
	return u, nil
}

var testSessions = fakeSessions{
	"member-token": {ID: 2, Role: model.RoleMember, ClubID: "club-1"},
	"admin-token":  {ID: 1, Role: model.RoleAdmin, ClubID: "club-1"},
}

func do(e *echo.Echo, method, path string, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer "+token) }
}

func cookie(token string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token}) }
}

func TestRequireSessionAndRole(t *testing.T) {
	e := echo.New()
	g := e.Group("", RequireSession(testSessions))
	g.GET("/me", func(c echo.Context) error {
		u, _ := UserFromContext(c)
		return c.JSON(http.StatusOK, u)
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireRole(model.RoleAdmin))

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/me").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/me", bearer("nope")).Code)

	rec := do(e, http.MethodGet, "/me", bearer("expired"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "session expired")

	rec = do(e, http.MethodGet, "/me", cookie("member-token"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":2`)

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/admin", bearer("member-token")).Code)
	assert.Equal(t, http.StatusNoContent, do(e, http.MethodGet, "/admin", bearer("admin-token")).Code)
}

func TestRequireRole_WithoutSession(t *testing.T) {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireRole(model.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/admin").Code)
}

func TestTokenBucket_BlocksAfterCapacity(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       3,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl-test",
	}
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") }, NewTokenBucket(cfg, rdb, nil))

	for i := 0; i < 3; i++ {
		rec := do(e, http.MethodGet, "/ping")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := do(e, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestTokenBucket_FailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour, TTL: time.Hour, Prefix: "rl"}
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") }, NewTokenBucket(cfg, rdb, nil))

	mr.Close()
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping").Code)
	}
}

func TestTokenBucket_DisabledOrNoRedis(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1}
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") }, NewTokenBucket(cfg, nil, nil))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping").Code)
	}
}

func TestLoginBucketUsesOwnPrefix(t *testing.T) {
	cfg := config.RateLimitConfig{Capacity: 60, LoginCapacity: 5, Prefix: "rl", RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}
	login := cfg.Login()
	assert.Equal(t, 5, login.Capacity)
	assert.Equal(t, "rl:login", login.Prefix)
}

func TestRedisCache_HitMissAndInvalidate(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 20}
	var calls atomic.Int32

	e := echo.New()
	g := e.Group("/gear", RequireSession(testSessions), NewRedisCache(cfg, rdb, "gear"))
	g.GET("", func(c echo.Context) error {
		calls.Add(1)
		return c.JSON(http.StatusOK, echo.Map{"call": calls.Load()})
	})

	first := do(e, http.MethodGet, "/gear", bearer("member-token"))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := do(e, http.MethodGet, "/gear", bearer("member-token"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.EqualValues(t, 1, calls.Load())

	// Entries are per user.
	other := do(e, http.MethodGet, "/gear", bearer("admin-token"))
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"))

	inv := NewCacheInvalidator(cfg, rdb, "gear", nil)
	require.NoError(t, inv.InvalidateGear(context.Background()))

	third := do(e, http.MethodGet, "/gear", bearer("member-token"))
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestRedisCache_SkipsErrors(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache"}
	var calls atomic.Int32

	e := echo.New()
	e.GET("/gear/:id", func(c echo.Context) error {
		calls.Add(1)
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}, NewRedisCache(cfg, rdb, "gear"))

	do(e, http.MethodGet, "/gear/1")
	do(e, http.MethodGet, "/gear/1")
	assert.EqualValues(t, 2, calls.Load())
}

func TestCacheInvalidator_NilClient(t *testing.T) {
	inv := NewCacheInvalidator(config.CacheConfig{Prefix: "cache"}, nil, "gear", nil)
	assert.NoError(t, inv.InvalidateGear(context.Background()))
}

func TestPayloadRoundTrip(t *testing.T) {
	h := http.Header{"Content-Type": []string{"application/json"}}
	bs, err := encodePayload(201, h, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, hdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, 201, status)
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 0})
	assert.False(t, ok)
}
