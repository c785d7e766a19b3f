package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func TestRateLimitIP(t *testing.T) {
	h := RateLimitIP(NewRateLimiter(0.001, 2))(http.HandlerFunc(ok))
	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2"))
}

func TestRateLimitUser(t *testing.T) {
	h := RateLimitUser(NewRateLimiter(0.001, 1))(http.HandlerFunc(ok))
	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUser(req.Context(), user, ""))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, http.StatusNoContent, call("u1").Code)
	rec := call("u1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, call("u2").Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	l := NewRateLimiter(1, 1)
	l.Allow("a")
	assert.Zero(t, l.Cleanup(time.Now()))
	assert.Equal(t, 1, l.Cleanup(time.Now().Add(limiterExpiry+time.Second)))
}
