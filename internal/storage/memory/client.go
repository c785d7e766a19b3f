package memory

import (
	"context"
	"sync"
	"time"

	"github.com/HasheemYodhin/ys/internal/storage"
)

type entry struct {
	subs []storage.Subscription
	exp  time.Time
}

// Client: хранилище подписок в памяти процесса (запуск без Redis).
type Client struct {
	mu    sync.RWMutex
	users map[string]*entry
	now   func() time.Time
}

func New() *Client {
	return &Client{users: make(map[string]*entry), now: time.Now}
}

func (c *Client) Close() error { return nil }

func (c *Client) Add(_ context.Context, userID string, sub storage.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(userID)
	if e == nil {
		e = &entry{}
		c.users[userID] = e
	}
	e.subs = append(withoutEndpoint(e.subs, sub.Endpoint), sub)
	if n := len(e.subs); n > storage.MaxSubsPerUser {
		e.subs = e.subs[n-storage.MaxSubsPerUser:]
	}
	e.exp = c.now().Add(storage.SubscriptionTTL)
	return nil
}

func (c *Client) Remove(_ context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(userID)
	if e == nil {
		return nil
	}
	e.subs = withoutEndpoint(e.subs, endpoint)
	if len(e.subs) == 0 {
		delete(c.users, userID)
	}
	return nil
}

func (c *Client) List(_ context.Context, userID string) ([]storage.Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.users[userID]
	if !ok || c.now().After(e.exp) {
		return nil, nil
	}
	out := make([]storage.Subscription, len(e.subs))
	copy(out, e.subs)
	return out, nil
}

// live возвращает запись пользователя, удаляя просроченную. Вызывать под c.mu.
func (c *Client) live(userID string) *entry {
	e, ok := c.users[userID]
	if !ok {
		return nil
	}
	if c.now().After(e.exp) {
		delete(c.users, userID)
		return nil
	}
	return e
}

func withoutEndpoint(subs []storage.Subscription, endpoint string) []storage.Subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.Endpoint != endpoint {
			out = append(out, s)
		}
	}
	return out
}
