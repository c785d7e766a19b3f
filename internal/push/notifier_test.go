package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HasheemYodhin/ys/internal/storage"
	"github.com/HasheemYodhin/ys/internal/storage/memory"
)

type recorder struct {
	mu       sync.Mutex
	payloads map[string][]byte
	status   map[string]int
}

func (r *recorder) send(_ context.Context, payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.payloads == nil {
		r.payloads = map[string][]byte{}
	}
	r.payloads[sub.Endpoint] = payload
	code := http.StatusCreated
	if c, ok := r.status[sub.Endpoint]; ok {
		code = c
	}
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func testSub(endpoint string) storage.Subscription {
	return storage.Subscription{Endpoint: endpoint, Keys: storage.Keys{P256dh: "p", Auth: "a"}}
}

func TestNotify_SendsToAllSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec := &recorder{}
	n := NewNotifier(store, &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "mailto:a@b.c", nil).WithSender(rec.send)
	require.NoError(t, n.Subscribe(ctx, "u1", testSub("https://push/1")))
	require.NoError(t, n.Subscribe(ctx, "u1", testSub("https://push/2")))

	n.Notify(ctx, "u1", "Anna", "hi", map[string]string{"conversation_id": "c1"})

	require.Len(t, rec.payloads, 2)
	var p payload
	require.NoError(t, json.Unmarshal(rec.payloads["https://push/1"], &p))
	assert.Equal(t, "Anna", p.Title)
	assert.Equal(t, "hi", p.Body)
	assert.Equal(t, "c1", p.Data["conversation_id"])
}

func TestNotify_GoneRemovesSubscription(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec := &recorder{status: map[string]int{"https://push/dead": http.StatusGone}}
	n := NewNotifier(store, &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "mailto:a@b.c", nil).WithSender(rec.send)
	require.NoError(t, n.Subscribe(ctx, "u1", testSub("https://push/dead")))
	require.NoError(t, n.Subscribe(ctx, "u1", testSub("https://push/live")))

	n.Notify(ctx, "u1", "t", "b", nil)

	left, err := store.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "https://push/live", left[0].Endpoint)
}

func TestNotify_DisabledWithoutKeys(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec := &recorder{}
	n := NewNotifier(store, nil, "", nil).WithSender(rec.send)
	require.NoError(t, n.Subscribe(ctx, "u1", testSub("https://push/1")))

	n.Notify(ctx, "u1", "t", "b", nil)
	assert.Empty(t, rec.payloads)
	assert.Equal(t, "", n.PublicKey())
}

func TestResolveVAPIDKeys(t *testing.T) {
	keys, err := ResolveVAPIDKeys("pub", "priv", "")
	require.NoError(t, err)
	assert.Equal(t, "pub", keys.PublicKey)

	_, err = ResolveVAPIDKeys("pub", "", "")
	assert.Error(t, err)

	path := t.TempDir() + "/vapid.json"
	first, err := ResolveVAPIDKeys("", "", path)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)
	second, err := ResolveVAPIDKeys("", "", path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
