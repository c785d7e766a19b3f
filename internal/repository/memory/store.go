// Package memory: реализации репозиториев в памяти процесса.
// Для режима -inmemory и тестов; поведение совпадает с Postgres.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/HasheemYodhin/ys/internal/repository"
	"github.com/samber/lo"
)

// Store держит пользователей, беседы и сообщения под одним мьютексом.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	convs    map[string]*model.Conversation
	convKeys map[string]string
	msgs     map[string]*model.Message
	byConv   map[string][]string
}

func New() *Store {
	return &Store{
		users:    make(map[string]*model.User),
		convs:    make(map[string]*model.Conversation),
		convKeys: make(map[string]string),
		msgs:     make(map[string]*model.Message),
		byConv:   make(map[string][]string),
	}
}

// Users отдаёт хранилище как repository.Users.
func (s *Store) Users() repository.Users { return (*userStore)(s) }

func (s *Store) Conversations() repository.Conversations { return (*convStore)(s) }

func (s *Store) Messages() repository.Messages { return (*msgStore)(s) }

type userStore Store

func (u *userStore) Create(_ context.Context, user *model.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	cp := *user
	if cp.CurrentStatus == "" {
		cp.CurrentStatus = model.StatusOffline
	}
	u.users[cp.ID] = &cp
	return nil
}

func (u *userStore) GetByID(_ context.Context, id string) (*model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u *userStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, user := range u.users {
		if strings.EqualFold(user.Email, email) {
			cp := *user
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (u *userStore) GetMany(_ context.Context, ids []string) ([]model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]model.User, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		if user, ok := u.users[id]; ok {
			out = append(out, *user)
		}
	}
	sortUsers(out)
	return out, nil
}

func (u *userStore) ListExcept(_ context.Context, id string) ([]model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]model.User, 0, len(u.users))
	for _, user := range u.users {
		if user.ID != id {
			out = append(out, *user)
		}
	}
	sortUsers(out)
	return out, nil
}

func sortUsers(users []model.User) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].FullName != users[j].FullName {
			return users[i].FullName < users[j].FullName
		}
		return users[i].Email < users[j].Email
	})
}

func (u *userStore) SetPresence(_ context.Context, id string, online bool, status model.Status, at time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.IsOnline = online
	user.CurrentStatus = status
	user.LastSeen = at
	return nil
}

func (u *userStore) ResetOnline(_ context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.users {
		user.IsOnline = false
		user.CurrentStatus = model.StatusOffline
	}
	return nil
}

type convStore Store

func cloneConv(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.ParticipantsData = nil
	return &cp
}

func (c *convStore) Create(_ context.Context, conv *model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv.UniqueKey != "" {
		if _, ok := c.convKeys[conv.UniqueKey]; ok {
			return errDuplicateKey
		}
		c.convKeys[conv.UniqueKey] = conv.ID
	}
	c.convs[conv.ID] = cloneConv(conv)
	return nil
}

func (c *convStore) CreateUnique(_ context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.convKeys[conv.UniqueKey]; ok {
		return cloneConv(c.convs[id]), false, nil
	}
	c.convKeys[conv.UniqueKey] = conv.ID
	c.convs[conv.ID] = cloneConv(conv)
	return cloneConv(conv), true, nil
}

func (c *convStore) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConv(conv), nil
}

func (c *convStore) ListForUser(_ context.Context, userID string) ([]model.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Conversation, 0, 8)
	for _, conv := range c.convs {
		if conv.HasParticipant(userID) {
			out = append(out, *cloneConv(conv))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (c *convStore) UpdatePreview(_ context.Context, id, preview string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[id]
	if !ok {
		return repository.ErrNotFound
	}
	conv.LastMessage = &preview
	conv.LastMessageTime = &at
	conv.UpdatedAt = at
	return nil
}

type msgStore Store

// cloneMsg копирует metadata через JSON: срезы голосов не разделяются с вызывающим.
func cloneMsg(m *model.Message) *model.Message {
	cp := *m
	cp.Attachments = append([]model.Attachment{}, m.Attachments...)
	cp.ReadBy = append([]string{}, m.ReadBy...)
	if m.Metadata != nil {
		raw, _ := json.Marshal(m.Metadata)
		md, err := model.LoadMetadata(m.Kind, raw)
		if err == nil {
			cp.Metadata = md
		}
	}
	return &cp
}

func (s *msgStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Attachments == nil {
		m.Attachments = []model.Attachment{}
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	s.msgs[m.ID] = cloneMsg(m)
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

func (s *msgStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMsg(m), nil
}

func (s *msgStore) ListRecent(_ context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := make([]*model.Message, 0, len(s.byConv[conversationID]))
	for _, id := range s.byConv[conversationID] {
		if m := s.msgs[id]; !m.Deleted {
			live = append(live, m)
		}
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].Timestamp.Before(live[j].Timestamp) })
	if len(live) > limit {
		live = live[len(live)-limit:]
	}
	out := make([]model.Message, 0, len(live))
	for _, m := range live {
		out = append(out, *cloneMsg(m))
	}
	return out, nil
}

func (s *msgStore) MarkRead(_ context.Context, conversationID, reader string, upTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byConv[conversationID] {
		m := s.msgs[id]
		if m.SenderID != reader && !m.Timestamp.After(upTo) && !m.IsReadBy(reader) {
			m.ReadBy = append(m.ReadBy, reader)
		}
	}
	return nil
}

func (s *msgStore) SoftDelete(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	m.Deleted = true
	m.Content = model.DeletedPlaceholder
	return cloneMsg(m), nil
}

func (s *msgStore) Vote(_ context.Context, id string, option int, voter string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if m.Kind != model.KindPoll || m.Deleted || m.Metadata == nil || m.Metadata.Poll == nil {
		return nil, repository.ErrNotPoll
	}
	opts := m.Metadata.Poll.Options
	if option < 0 || option >= len(opts) {
		return nil, repository.ErrBadOption
	}
	for i := range opts {
		opts[i].Votes = lo.Without(opts[i].Votes, voter)
		if opts[i].Votes == nil {
			opts[i].Votes = []string{}
		}
	}
	opts[option].Votes = append(opts[option].Votes, voter)
	return cloneMsg(m), nil
}
