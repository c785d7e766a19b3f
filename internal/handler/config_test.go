package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HasheemYodhin/ys/internal/config"
	"github.com/HasheemYodhin/ys/internal/middleware"
	"github.com/HasheemYodhin/ys/internal/storage"
	"github.com/HasheemYodhin/ys/internal/storage/memory"
)

type staticKey string

func (k staticKey) PublicKey() string { return string(k) }

func TestConfigHandler(t *testing.T) {
	cfg := &config.Config{CallICEServers: []config.IceServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}}

	rec := httptest.NewRecorder()
	NewConfigHandler(cfg, staticKey("BPub")).GetPushConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config/push", nil))
	assert.JSONEq(t, `{"enabled":true,"vapid_public_key":"BPub"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewConfigHandler(cfg, staticKey("")).GetPushConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config/push", nil))
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewConfigHandler(cfg, nil).GetCallConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config/call", nil))
	assert.JSONEq(t, `{"ice_servers":[{"urls":["stun:stun.l.google.com:19302"]}]}`, rec.Body.String())
}

type memSubs struct{ store *memory.Client }

func (m memSubs) Subscribe(ctx context.Context, userID string, sub storage.Subscription) error {
	return m.store.Add(ctx, userID, sub)
}

func (m memSubs) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return m.store.Remove(ctx, userID, endpoint)
}

func TestPushHandler(t *testing.T) {
	store := memory.New()
	h := NewPushHandler(memSubs{store})
	call := func(fn http.HandlerFunc, method, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/push/subscribe", strings.NewReader(body))
		req = req.WithContext(middleware.WithUser(req.Context(), "u1", ""))
		rec := httptest.NewRecorder()
		fn(rec, req)
		return rec
	}

	rec := call(h.Subscribe, http.MethodPost, `{"subscription":{"endpoint":"https://push/1","keys":{"p256dh":"p","auth":"a"}}}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	subs, err := store.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	rec = call(h.Subscribe, http.MethodPost, `{"subscription":{"endpoint":"https://push/2"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.Unsubscribe, http.MethodDelete, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.Unsubscribe, http.MethodDelete, `{"endpoint":"https://push/1"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	subs, _ = store.List(context.Background(), "u1")
	assert.Empty(t, subs)
}
