package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Лимиты подписок: не больше MaxSubsPerUser на пользователя, список живёт SubscriptionTTL
// с момента последней подписки.
const (
	MaxSubsPerUser  = 10
	SubscriptionTTL = 30 * 24 * time.Hour
)

var ErrInvalidSubscription = errors.New("subscription requires endpoint, keys.p256dh and keys.auth")

// Subscription: браузерная подписка Web Push (формат PushSubscription.toJSON()).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" || s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return ErrInvalidSubscription
	}
	return nil
}

// SubscriptionStore: хранилище push-подписок по user_id.
// Реализации: redis.Client, memory.Client (без Redis).
type SubscriptionStore interface {
	// Add добавляет подписку; повторная подписка того же endpoint заменяет старую.
	Add(ctx context.Context, userID string, sub Subscription) error
	Remove(ctx context.Context, userID, endpoint string) error
	List(ctx context.Context, userID string) ([]Subscription, error)
	Close() error
}
