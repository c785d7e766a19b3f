package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HasheemYodhin/ys/internal/repository/memory"
	"github.com/HasheemYodhin/ys/internal/repository/repotest"
	"github.com/HasheemYodhin/ys/internal/ws"
)

func newWSServer(t *testing.T, origins string) (*httptest.Server, *ws.Hub, *memory.Store) {
	t.Helper()
	store := memory.New()
	hub := ws.NewHub(store.Users(), 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(asUser(http.HandlerFunc(NewWSHandler(hub, store.Users(), origins).ServeWS)))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub, store
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestServeWS_RegistersSession(t *testing.T) {
	srv, hub, store := newWSServer(t, "https://hr.yshr.com")
	u := repotest.NewUser(t, store.Users(), "Anna")

	header := http.Header{"X-Test-User": {u.ID}, "Origin": {"https://hr.yshr.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Presence().Online(u.ID) }, 2*time.Second, 5*time.Millisecond)
}

func TestServeWS_Rejects(t *testing.T) {
	srv, _, _ := newWSServer(t, "https://hr.yshr.com")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"X-Test-User": {"u1"}, "Origin": {"https://evil.example"}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	h := NewWSHandler(nil, nil, "https://a.com, https://b.com")
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://b.com")
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://c.com")
	assert.False(t, h.checkOrigin(req))
	assert.True(t, NewWSHandler(nil, nil, "*").checkOrigin(req))
}
