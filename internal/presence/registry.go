// Package presence: какая realtime-сессия чья, и статус пользователя в справочнике.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/HasheemYodhin/ys/internal/event"
	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/model"
)

// Registry связывает живые сессии с пользователями. Методы не возвращают ошибок:
// сбой записи логируется, а карта в памяти всё равно отражает переход.
type Registry interface {
	Register(ctx context.Context, session, userID string)
	Unregister(ctx context.Context, session string)
	SetStatus(ctx context.Context, session string, status model.Status)
	// Resolve: текущая сессия пользователя.
	Resolve(userID string) (string, bool)
	// UserOf: владелец сессии.
	UserOf(session string) (string, bool)
	Online(userID string) bool
}

// StatusStore сохраняет поля присутствия.
type StatusStore interface {
	SetPresence(ctx context.Context, id string, online bool, status model.Status, at time.Time) error
}

// Broadcaster шлёт событие во все соединения.
type Broadcaster interface {
	BroadcastAll(ev event.Envelope)
}

const persistTimeout = 5 * time.Second

// MemoryRegistry: Registry в памяти процесса. Одна живая сессия на пользователя:
// побеждает последний Register, а Unregister старой сессии убирает только её запись.
type MemoryRegistry struct {
	mu        sync.RWMutex
	byUser    map[string]string
	bySession map[string]string

	store StatusStore
	pub   Broadcaster
	now   func() time.Time
}

var _ Registry = (*MemoryRegistry)(nil)

func NewRegistry(store StatusStore, pub Broadcaster) *MemoryRegistry {
	return &MemoryRegistry{
		byUser:    make(map[string]string),
		bySession: make(map[string]string),
		store:     store,
		pub:       pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, session, userID string) {
	r.mu.Lock()
	if prev, ok := r.bySession[session]; ok && prev != userID && r.byUser[prev] == session {
		delete(r.byUser, prev)
	}
	if old, ok := r.byUser[userID]; ok && old != session {
		logger.Debugf("presence: user=%s session %s replaced by %s", userID, old, session)
	}
	r.byUser[userID] = session
	r.bySession[session] = userID
	r.mu.Unlock()

	r.publish(ctx, userID, model.StatusOnline)
}

func (r *MemoryRegistry) Unregister(ctx context.Context, session string) {
	r.mu.Lock()
	userID, ok := r.bySession[session]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.bySession, session)
	current := r.byUser[userID] == session
	if current {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	if current {
		r.publish(ctx, userID, model.StatusOffline)
	}
}

func (r *MemoryRegistry) SetStatus(ctx context.Context, session string, status model.Status) {
	if !status.Valid() {
		return
	}
	userID, ok := r.UserOf(session)
	if !ok {
		return
	}
	r.publish(ctx, userID, status)
}

func (r *MemoryRegistry) Resolve(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	return s, ok
}

func (r *MemoryRegistry) UserOf(session string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.bySession[session]
	return u, ok
}

func (r *MemoryRegistry) Online(userID string) bool {
	_, ok := r.Resolve(userID)
	return ok
}

// publish пишет и рассылает вне блокировки.
func (r *MemoryRegistry) publish(ctx context.Context, userID string, status model.Status) {
	at := r.now()
	online := status != model.StatusOffline
	if r.store != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		if err := r.store.SetPresence(pctx, userID, online, status, at); err != nil {
			logger.Errorf("presence persist user=%s status=%s: %v", userID, status, err)
		}
		cancel()
	}
	if r.pub != nil {
		r.pub.BroadcastAll(event.Envelope{Type: event.StatusUpdate, Payload: event.StatusPayload{
			UserID:   userID,
			Status:   status,
			IsOnline: online,
			LastSeen: at,
		}})
	}
}
