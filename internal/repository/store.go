package repository

import (
	"context"
	"errors"
	"time"

	"github.com/HasheemYodhin/ys/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrNotPoll: Vote по сообщению, которое не является живым опросом.
	ErrNotPoll = errors.New("message is not a poll")
	// ErrBadOption: индекс варианта вне диапазона.
	ErrBadOption = errors.New("poll option out of range")
)

// Users: справочник пользователей. Сервис пишет в него только поля присутствия.
type Users interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetMany(ctx context.Context, ids []string) ([]model.User, error)
	ListExcept(ctx context.Context, id string) ([]model.User, error)
	SetPresence(ctx context.Context, id string, online bool, status model.Status, at time.Time) error
	ResetOnline(ctx context.Context) error
}

type Conversations interface {
	// CreateUnique вставляет c, если беседы с таким UniqueKey ещё нет.
	// Возвращает сохранённую строку и признак, что её создал этот вызов.
	CreateUnique(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error)
	Create(ctx context.Context, c *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	UpdatePreview(ctx context.Context, id, preview string, at time.Time) error
}

type Messages interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// ListRecent: последние limit неудалённых сообщений по возрастанию времени.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	// MarkRead добавляет reader в read_by сообщений беседы не от reader с timestamp <= upTo.
	MarkRead(ctx context.Context, conversationID, reader string, upTo time.Time) error
	SoftDelete(ctx context.Context, id string) (*model.Message, error)
	// Vote переносит голос voter на option одним атомарным обновлением.
	Vote(ctx context.Context, id string, option int, voter string) (*model.Message, error)
}
