// Package chat: правила бесед и сообщений (участники, превью, прочтения, опросы)
// и рассылка событий после каждой записи.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/event"
	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/metrics"
	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/HasheemYodhin/ys/internal/repository"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200

	lockStripes = 64
	pushBodyMax = 120
)

// Publisher доставляет события живым соединениям.
type Publisher interface {
	BroadcastToRoom(room string, ev event.Envelope)
	BroadcastAll(ev event.Envelope)
}

// Notifier отправляет пуш; ошибки реализация логирует сама.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// OnlineChecker: есть ли у пользователя живая сессия.
type OnlineChecker interface {
	Online(userID string) bool
}

// Replier готовит ответ ассистента в ai-беседе в фоне.
type Replier interface {
	Trigger(conversationID, prompt string)
}

type Service struct {
	convs repository.Conversations
	msgs  repository.Messages
	users repository.Users
	pub   Publisher

	push     Notifier
	presence OnlineChecker
	replier  Replier
	metrics  *metrics.Metrics

	stripes [lockStripes]stripe
	now     func() time.Time
}

// stripe упорядочивает запись и рассылку для бесед с этим хешем; timestamp сообщений
// внутри полосы строго растёт.
type stripe struct {
	mu   sync.Mutex
	last time.Time
}

func NewService(convs repository.Conversations, msgs repository.Messages, users repository.Users, pub Publisher) *Service {
	return &Service{
		convs: convs,
		msgs:  msgs,
		users: users,
		pub:   pub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetNotifier(n Notifier) { s.push = n }
func (s *Service) SetPresence(p OnlineChecker) { s.presence = p }
func (s *Service) SetReplier(r Replier) { s.replier = r }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) stripe(conversationID string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &s.stripes[h.Sum32()%lockStripes]
}

// stamp: время позже всех предыдущих на st. Вызывать под st.mu.
func (s *Service) stamp(st *stripe) time.Time {
	t := s.now().Truncate(time.Microsecond)
	if !t.After(st.last) {
		t = st.last.Add(time.Microsecond)
	}
	st.last = t
	return t
}

// ---- беседы ----

type CreateConversationRequest struct {
	Type         model.ConversationType `json:"type"`
	Name         string                 `json:"name"`
	Participants []string               `json:"participants"`
}

// CreateConversation выбирает ветку по типу. created=false, если вернулась уже
// существующая личная или ai-беседа.
func (s *Service) CreateConversation(ctx context.Context, caller string, req CreateConversationRequest) (*model.Conversation, bool, error) {
	others := lo.Uniq(lo.Filter(req.Participants, func(id string, _ int) bool {
		return id != "" && id != caller
	}))
	switch req.Type {
	case model.ConversationDirect:
		if len(others) != 1 {
			return nil, false, apperr.Validation("direct conversation needs exactly one other participant")
		}
		return s.GetOrCreateDirect(ctx, caller, others[0])
	case model.ConversationAI:
		return s.GetOrCreateAI(ctx, caller)
	case model.ConversationGroup:
		c, err := s.CreateGroup(ctx, caller, req.Name, others)
		return c, err == nil, err
	}
	return nil, false, apperr.Validation("unknown conversation type")
}

func (s *Service) GetOrCreateDirect(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("chat.GetOrCreateDirect", time.Now())()
	if a == b {
		return nil, false, apperr.Validation("cannot start a conversation with yourself")
	}
	if _, err := s.users.GetByID(ctx, b); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperr.NotFound("User not found")
		}
		return nil, false, apperr.Internal("lookup user", err)
	}
	now := s.now()
	c := &model.Conversation{
		ID:           uuid.New().String(),
		Type:         model.ConversationDirect,
		Participants: []string{a, b},
		UniqueKey:    model.DirectKey(a, b),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	stored, created, err := s.convs.CreateUnique(ctx, c)
	if err != nil {
		return nil, false, apperr.Internal("create conversation", err)
	}
	// Чужую беседу по совпавшему ключу не отдаём.
	if stored.Type != model.ConversationDirect || !stored.SameMembers(a, b) {
		logger.Errorf("chat direct key %q points to conversation %s of %v", c.UniqueKey, stored.ID, stored.Participants)
		return nil, false, apperr.Internal("create conversation", errors.New("direct key collision"))
	}
	return stored, created, nil
}

func (s *Service) GetOrCreateAI(ctx context.Context, user string) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("chat.GetOrCreateAI", time.Now())()
	now := s.now()
	name := model.AIName
	welcome := model.AIWelcome
	c := &model.Conversation{
		ID:              uuid.New().String(),
		Type:            model.ConversationAI,
		Name:            &name,
		Participants:    []string{user},
		UniqueKey:       model.AIKey(user),
		CreatedAt:       now,
		UpdatedAt:       now,
		LastMessage:     &welcome,
		LastMessageTime: &now,
	}
	stored, created, err := s.convs.CreateUnique(ctx, c)
	if err != nil {
		return nil, false, apperr.Internal("create ai conversation", err)
	}
	return stored, created, nil
}

func (s *Service) CreateGroup(ctx context.Context, creator, name string, participants []string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("chat.CreateGroup", time.Now())()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("group name is required")
	}
	members := lo.Uniq(append([]string{creator}, lo.Compact(participants)...))
	now := s.now()
	c := &model.Conversation{
		ID:           uuid.New().String(),
		Type:         model.ConversationGroup,
		Name:         &name,
		Participants: members,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.convs.Create(ctx, c); err != nil {
		return nil, apperr.Internal("create group", err)
	}
	return c, nil
}

// ListForUser: беседы пользователя, свежие сверху, с данными остальных участников.
func (s *Service) ListForUser(ctx context.Context, user string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("chat.ListForUser", time.Now())()
	convs, err := s.convs.ListForUser(ctx, user)
	if err != nil {
		return nil, apperr.Internal("list conversations", err)
	}
	var ids []string
	for _, c := range convs {
		ids = append(ids, c.Participants...)
	}
	ids = lo.Without(lo.Uniq(ids), user)
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("resolve participants", err)
	}
	byID := lo.KeyBy(users, func(u model.User) string { return u.ID })

	for i := range convs {
		c := &convs[i]
		c.ParticipantsData = make([]model.Participant, 0, len(c.Participants))
		for _, id := range c.Participants {
			if id == user {
				continue
			}
			if u, ok := byID[id]; ok {
				c.ParticipantsData = append(c.ParticipantsData, u.ToParticipant())
			}
		}
		if c.Type == model.ConversationAI {
			c.ParticipantsData = append(c.ParticipantsData, model.AIParticipant())
		}
	}
	return convs, nil
}

// IsParticipant проверяется хабом перед входом в комнату.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	c, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return c.HasParticipant(userID), nil
}

// ListUsers: справочник всех, кроме вызывающего.
func (s *Service) ListUsers(ctx context.Context, caller string) ([]model.Participant, error) {
	users, err := s.users.ListExcept(ctx, caller)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	return lo.Map(users, func(u model.User, _ int) model.Participant { return u.ToParticipant() }), nil
}

// memberConversation загружает беседу и проверяет, что userID в ней состоит.
func (s *Service) memberConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	c, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Conversation not found")
		}
		return nil, apperr.Internal("load conversation", err)
	}
	if !c.HasParticipant(userID) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return c, nil
}

// ---- сообщения ----

type PostMessageRequest struct {
	ConversationID string             `json:"conversation_id"`
	Content        string             `json:"content"`
	Attachments    []model.Attachment `json:"attachments"`
	Kind           model.MessageKind  `json:"message_type"`
	Metadata       json.RawMessage    `json:"metadata"`
}

func (s *Service) PostMessage(ctx context.Context, sender string, req PostMessageRequest) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.PostMessage", time.Now())()
	if req.Kind == "" {
		req.Kind = model.KindText
	}
	if !req.Kind.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown message_type %q", req.Kind))
	}
	attachments := lo.Filter(req.Attachments, func(a model.Attachment, _ int) bool { return a.URL != "" })
	if req.Content == "" && len(attachments) == 0 {
		return nil, apperr.Validation("Message must have content or attachments")
	}
	md, err := model.DecodeMetadata(req.Kind, req.Metadata)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if req.ConversationID == "" {
		return nil, apperr.Validation("conversation_id is required")
	}

	conv, err := s.memberConversation(ctx, req.ConversationID, sender)
	if err != nil {
		return nil, err
	}
	senderName := "Unknown"
	if u, err := s.users.GetByID(ctx, sender); err == nil {
		senderName = u.DisplayName()
	} else if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("chat.PostMessage sender lookup user=%s: %v", sender, err)
	}

	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       sender,
		SenderName:     senderName,
		Content:        req.Content,
		Attachments:    attachments,
		Kind:           req.Kind,
		Metadata:       md,
		ReadBy:         []string{sender},
	}
	if err := s.commit(ctx, m, Preview(m)); err != nil {
		return nil, err
	}
	s.metrics.MessagePosted(string(m.Kind))

	s.notifyOffline(conv, m)
	if conv.Type == model.ConversationAI && s.replier != nil {
		s.replier.Trigger(conv.ID, m.Content)
	}
	return m, nil
}

// PostAIReply сохраняет и рассылает сообщение ассистента.
func (s *Service) PostAIReply(ctx context.Context, conversationID, text string) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.PostAIReply", time.Now())()
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       model.AIUserID,
		SenderName:     model.AIName,
		Content:        text,
		Attachments:    []model.Attachment{},
		Kind:           model.KindText,
		Metadata:       &model.Metadata{AI: &model.AIMetadata{IsAI: true}},
		ReadBy:         []string{model.AIUserID},
	}
	if err := s.commit(ctx, m, Preview(m)); err != nil {
		return nil, err
	}
	s.metrics.MessagePosted("ai")
	return m, nil
}

// commit сохраняет m, обновляет превью и рассылает new_message под полосой беседы:
// события комнаты уходят в порядке записи.
func (s *Service) commit(ctx context.Context, m *model.Message, preview string) error {
	st := s.stripe(m.ConversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	m.Timestamp = s.stamp(st)
	if err := s.msgs.Create(ctx, m); err != nil {
		return apperr.Internal("store message", err)
	}
	if err := s.convs.UpdatePreview(ctx, m.ConversationID, preview, m.Timestamp); err != nil {
		logger.Errorf("chat preview conv=%s: %v", m.ConversationID, err)
	}
	s.pub.BroadcastToRoom(m.ConversationID, event.Envelope{Type: event.NewMessage, Payload: m})
	return nil
}

func (s *Service) notifyOffline(conv *model.Conversation, m *model.Message) {
	if s.push == nil {
		return
	}
	body := Preview(m)
	if r := []rune(body); len(r) > pushBodyMax {
		body = string(r[:pushBodyMax-3]) + "..."
	}
	data := map[string]string{"conversation_id": conv.ID, "message_id": m.ID}
	for _, uid := range conv.Participants {
		if uid == m.SenderID || (s.presence != nil && s.presence.Online(uid)) {
			continue
		}
		uid := uid
		go s.push.Notify(context.Background(), uid, m.SenderName, body, data)
	}
}

// ListMessages: последние limit живых сообщений по возрастанию времени; чужие из
// выдачи и более старые помечаются прочитанными.
func (s *Service) ListMessages(ctx context.Context, conversationID, requester string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("chat.ListMessages", time.Now())()
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	if _, err := s.memberConversation(ctx, conversationID, requester); err != nil {
		return nil, err
	}
	msgs, err := s.msgs.ListRecent(ctx, conversationID, limit)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}
	// Только то, что попало в выдачу: более новые сообщения requester ещё не видел.
	upTo := msgs[len(msgs)-1].Timestamp
	if err := s.msgs.MarkRead(ctx, conversationID, requester, upTo); err != nil {
		logger.Errorf("chat mark read conv=%s user=%s: %v", conversationID, requester, err)
		return msgs, nil
	}
	for i := range msgs {
		if msgs[i].SenderID != requester && !msgs[i].IsReadBy(requester) {
			msgs[i].ReadBy = append(msgs[i].ReadBy, requester)
		}
	}
	return msgs, nil
}

func (s *Service) DeleteMessage(ctx context.Context, messageID, requester string) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.DeleteMessage", time.Now())()
	m, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Message not found")
		}
		return nil, apperr.Internal("load message", err)
	}
	if m.SenderID != requester {
		return nil, apperr.Forbidden("only the sender can delete a message")
	}

	st := s.stripe(m.ConversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	deleted, err := s.msgs.SoftDelete(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Message not found")
		}
		return nil, apperr.Internal("delete message", err)
	}
	s.pub.BroadcastToRoom(deleted.ConversationID, event.Envelope{Type: event.MessageDeleted, Payload: deleted})
	return deleted, nil
}

// Vote переносит голос voter на option (с нуля) и рассылает опрос всем.
func (s *Service) Vote(ctx context.Context, messageID string, option int, voter string) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.Vote", time.Now())()
	m, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Validation("Invalid poll message")
		}
		return nil, apperr.Internal("load message", err)
	}
	if m.Kind != model.KindPoll {
		return nil, apperr.Validation("Invalid poll message")
	}
	if _, err := s.memberConversation(ctx, m.ConversationID, voter); err != nil {
		return nil, err
	}

	st := s.stripe(m.ConversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	updated, err := s.msgs.Vote(ctx, messageID, option, voter)
	switch {
	case errors.Is(err, repository.ErrNotPoll), errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Validation("Invalid poll message")
	case errors.Is(err, repository.ErrBadOption):
		return nil, apperr.Validation("poll option out of range")
	case err != nil:
		return nil, apperr.Internal("vote", err)
	}
	s.metrics.VoteApplied()
	s.pub.BroadcastAll(event.Envelope{Type: event.MessageUpdate, Payload: updated})
	return updated, nil
}

// Preview: строка сообщения в списке бесед.
func Preview(m *model.Message) string {
	if m.Content != "" {
		return m.Content
	}
	switch m.Kind {
	case model.KindImage:
		return "Sent an image"
	case model.KindVideo:
		return "Sent a video"
	case model.KindAudio:
		return "Sent a voice message"
	case model.KindFile:
		return "Sent a file"
	}
	if len(m.Attachments) > 0 {
		return "Sent an attachment"
	}
	return "New message"
}
