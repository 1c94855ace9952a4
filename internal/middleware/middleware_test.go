package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/vms/internal/ratelimit"
	"github.com/gridwatch/vms/internal/tokens"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuth_ValidToken(t *testing.T) {
	tm := tokens.NewManager("test-key")
	tok, err := tm.GenerateAccessToken("user-1", "operator")
	require.NoError(t, err)

	var got *AuthContext
	handler := NewJWTAuth(tm, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "operator", got.Role)
}

func TestJWTAuth_QueryParamToken(t *testing.T) {
	tm := tokens.NewManager("test-key")
	tok, err := tm.GenerateAccessToken("user-1", "operator")
	require.NoError(t, err)

	handler := NewJWTAuth(tm, nil).Middleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestJWTAuth_MissingAndBadTokens(t *testing.T) {
	tm := tokens.NewManager("test-key")
	handler := NewJWTAuth(tm, nil).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestJWTAuth_RefreshTokenRejected(t *testing.T) {
	tm := tokens.NewManager("test-key")
	tok, err := tm.GenerateRefreshToken("user-1", "operator")
	require.NoError(t, err)

	handler := NewJWTAuth(tm, nil).Middleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code, "refresh tokens cannot access the API")
}

func TestRateLimit_BlocksAfterLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewLimiter(client, "test-salt")

	handler := NewRateLimit(limiter, ratelimit.LimitConfig{Rate: 3, Window: time.Minute}).Middleware(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, "request %d within limit", i+1)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Another client is unaffected.
	req = httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	req.RemoteAddr = "10.9.9.9:5555"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit_FailsOpenWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	limiter := ratelimit.NewLimiter(client, "test-salt")

	handler := NewRateLimit(limiter, ratelimit.LimitConfig{Rate: 1, Window: time.Minute}).Middleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORS_Preflight(t *testing.T) {
	handler := CORS(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/api/cameras", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	handler := RequestLogger(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/system/stats", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}
