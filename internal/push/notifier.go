// Package push: Web Push уведомления участникам без активной websocket-сессии.
package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/metrics"
	"github.com/HasheemYodhin/ys/internal/storage"
)

const (
	notifyTimeout = 10 * time.Second
	// TTL push-сообщения у push-сервиса браузера, секунды.
	messageTTL = 30
)

// SendFunc: отправка одного сообщения; в проде webpush.SendNotificationWithContext.
type SendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

type Notifier struct {
	store   storage.SubscriptionStore
	opts    *webpush.Options
	send    SendFunc
	metrics *metrics.Metrics
}

// NewNotifier: при keys == nil подписки сохраняются, но отправка не выполняется.
func NewNotifier(store storage.SubscriptionStore, keys *VAPIDKeys, subscriber string, m *metrics.Metrics) *Notifier {
	n := &Notifier{store: store, send: webpush.SendNotificationWithContext, metrics: m}
	if keys != nil {
		n.opts = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             messageTTL,
		}
	}
	return n
}

// WithSender подменяет транспорт (тесты).
func (n *Notifier) WithSender(send SendFunc) *Notifier {
	n.send = send
	return n
}

// PublicKey отдаётся фронту для pushManager.subscribe; пустая строка: push отключены.
func (n *Notifier) PublicKey() string {
	if n.opts == nil {
		return ""
	}
	return n.opts.VAPIDPublicKey
}

func (n *Notifier) Subscribe(ctx context.Context, userID string, sub storage.Subscription) error {
	return n.store.Add(ctx, userID, sub)
}

func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return n.store.Remove(ctx, userID, endpoint)
}

type payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify рассылает уведомление на все подписки пользователя. Ошибки логируются;
// подписки, на которые push-сервис ответил 404/410, удаляются.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if n.opts == nil {
		n.metrics.Push("disabled")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	subs, err := n.store.List(ctx, userID)
	if err != nil {
		logger.L().Error("push: list subscriptions", zap.String("user_id", userID), zap.Error(err))
		n.metrics.Push("error")
		return
	}
	if len(subs) == 0 {
		n.metrics.Push("no_subscription")
		return
	}
	raw, err := json.Marshal(payload{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push: encode payload: %v", err)
		return
	}
	for _, sub := range subs {
		n.sendOne(ctx, userID, sub, raw)
	}
}

func (n *Notifier) sendOne(ctx context.Context, userID string, sub storage.Subscription, raw []byte) {
	resp, err := n.send(ctx, raw, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, n.opts)
	if err != nil {
		logger.L().Error("push: send", zap.String("endpoint", shortEndpoint(sub.Endpoint)), zap.Error(err))
		n.metrics.Push("error")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		if err := n.store.Remove(ctx, userID, sub.Endpoint); err != nil {
			logger.Errorf("push: remove expired subscription: %v", err)
		}
		n.metrics.Push("expired")
	case resp.StatusCode >= 400:
		logger.L().Error("push: rejected", zap.String("endpoint", shortEndpoint(sub.Endpoint)), zap.Int("status", resp.StatusCode))
		n.metrics.Push("error")
	default:
		n.metrics.Push("sent")
	}
}

func shortEndpoint(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
