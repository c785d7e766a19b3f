package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/storage"
)

// Ключ списка подписок: push:subs:{user_id}.
const keyPrefix = "push:subs:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient оборачивает готовый клиент (тесты, общий пул).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Add кладёт подписку в конец списка, обрезает до MaxSubsPerUser последних и продлевает TTL.
func (c *Client) Add(ctx context.Context, userID string, sub storage.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("subscription encode: %w", err)
	}
	key := keyPrefix + userID
	kept, err := c.without(ctx, key, sub.Endpoint)
	if err != nil {
		return err
	}
	kept = append(kept, string(raw))
	return c.replace(ctx, key, kept)
}

// Remove удаляет подписку по endpoint; пустой список удаляется целиком.
func (c *Client) Remove(ctx context.Context, userID, endpoint string) error {
	key := keyPrefix + userID
	kept, err := c.without(ctx, key, endpoint)
	if err != nil {
		return err
	}
	return c.replace(ctx, key, kept)
}

func (c *Client) List(ctx context.Context, userID string) ([]storage.Subscription, error) {
	items, err := c.cli.LRange(ctx, keyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	subs := make([]storage.Subscription, 0, len(items))
	for _, item := range items {
		var sub storage.Subscription
		if err := json.Unmarshal([]byte(item), &sub); err != nil || sub.Endpoint == "" {
			logger.Debugf("push: пропущена битая подписка %s", userID)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// without возвращает сырые элементы списка, кроме подписки с данным endpoint.
func (c *Client) without(ctx context.Context, key, endpoint string) ([]string, error) {
	items, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	kept := make([]string, 0, len(items))
	for _, item := range items {
		var sub storage.Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// replace перезаписывает список одной транзакцией.
func (c *Client) replace(ctx context.Context, key string, items []string) error {
	pipe := c.cli.TxPipeline()
	pipe.Del(ctx, key)
	if len(items) > 0 {
		vals := make([]any, len(items))
		for i, v := range items {
			vals[i] = v
		}
		pipe.RPush(ctx, key, vals...)
		pipe.LTrim(ctx, key, -storage.MaxSubsPerUser, -1)
		pipe.Expire(ctx, key, storage.SubscriptionTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save subscriptions: %w", err)
	}
	return nil
}
