package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/chat"
	"github.com/HasheemYodhin/ys/internal/event"
	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/metrics"
	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/HasheemYodhin/ys/internal/presence"
	"github.com/HasheemYodhin/ys/internal/signaling"
)

const eventTimeout = 5 * time.Second

var ErrTooManyConnections = errors.New("ws connection limit reached")

// Chat: часть чат-сервиса, которую хаб вызывает от имени клиентов.
type Chat interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	PostMessage(ctx context.Context, sender string, req chat.PostMessageRequest) (*model.Message, error)
}

// Hub владеет сессиями и комнатами (комната = id беседы), реестром присутствия
// и ретранслятором сигналинга.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Client
	rooms    map[string]map[*Client]struct{}
	maxConns int

	presence *presence.MemoryRegistry
	relay    *signaling.Relay
	chat     Chat
	metrics  *metrics.Metrics

	unregister chan *Client
	stopping   chan struct{}
	done       chan struct{}
}

// NewHub создаёт хаб; реестр присутствия пишет статусы через store.
func NewHub(store presence.StatusStore, maxConns int, m *metrics.Metrics) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	h := &Hub{
		sessions:   make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		metrics:    m,
		unregister: make(chan *Client, 64),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.presence = presence.NewRegistry(store, h)
	h.relay = signaling.NewRelay(h.presence, h, m)
	return h
}

// SetChat подключает чат-сервис; сам сервис публикует события через хаб.
func (h *Hub) SetChat(c Chat) { h.chat = c }

func (h *Hub) Presence() presence.Registry { return h.presence }

func (h *Hub) Relay() *signaling.Relay { return h.relay }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Run больше не читает unregister: readLoop закрываемых клиентов не должен ждать его.
	close(h.stopping)
	// Собираем клиентов под блокировкой, сетевой I/O только после неё.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		all = append(all, c)
	}
	h.sessions = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	for _, c := range all {
		c.Wait()
		h.presence.Unregister(ctx, c.id)
		h.metrics.SessionClosed()
	}
}

// Full: превысит ли новая сессия лимит соединений.
func (h *Hub) Full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions) >= h.maxConns
}

// Register добавляет сессию и отмечает пользователя онлайн. Вызывать до Start.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	select {
	case <-h.stopping:
		h.mu.Unlock()
		return errors.New("hub stopped")
	default:
	}
	if len(h.sessions) >= h.maxConns {
		h.mu.Unlock()
		h.metrics.SessionRejected()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		return ErrTooManyConnections
	}
	h.sessions[c.id] = c
	h.mu.Unlock()
	h.metrics.SessionOpened()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	h.presence.Register(ctx, c.id, c.userID)
	return nil
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if h.sessions[c.id] != c {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, c.id)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	// Сеть вне блокировки.
	c.Close()
	h.metrics.SessionClosed()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	h.presence.Unregister(ctx, c.id)
	if !h.presence.Online(c.userID) {
		h.relay.Disconnected(c.userID)
	}
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[c.id]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	h.leaveLocked(c, room)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom: вошла ли сессия в комнату.
func (h *Hub) InRoom(session, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.sessions[session]
	if !ok {
		return false
	}
	_, in := c.rooms[room]
	return in
}

// HandleMessage разбирает входящие сообщения WebSocket.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	h.metrics.ClientEvent(msg.Type)
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	switch msg.Type {
	case event.JoinConversation:
		h.handleJoin(ctx, c, msg)
	case event.LeaveConversation:
		var p roomPayload
		if h.decode(c, msg, &p) && p.ConversationID != "" {
			h.leave(c, p.ConversationID)
		}
	case event.Typing:
		h.handleTyping(c, msg)
	case event.UpdateStatus:
		var p statusPayload
		if h.decode(c, msg, &p) {
			h.presence.SetStatus(ctx, c.id, p.Status)
		}
	case event.SendMessage:
		h.handleSendMessage(ctx, c, msg)
	case event.CallUser:
		var p callUserPayload
		if h.decode(c, msg, &p) && p.TargetID != "" {
			name := p.CallerName
			if name == "" {
				name = c.userName
			}
			h.relay.CallOffer(c.userID, name, p.TargetID, p.Offer, p.Type)
		}
	case event.AnswerCall:
		var p answerCallPayload
		if h.decode(c, msg, &p) && p.TargetID != "" {
			h.relay.CallAnswer(c.userID, p.TargetID, p.Answer)
		}
	case event.ICECandidate:
		var p iceCandidatePayload
		if h.decode(c, msg, &p) && p.TargetID != "" {
			h.relay.ICECandidate(p.TargetID, p.Candidate)
		}
	case event.EndCall:
		var p endCallPayload
		if h.decode(c, msg, &p) && p.TargetID != "" {
			h.relay.EndCall(c.userID, p.TargetID)
		}
	default:
		h.sendError(c, msg.Type, "unknown event type")
	}
}

func (h *Hub) decode(c *Client, msg IncomingMessage, v any) bool {
	if len(msg.Payload) == 0 {
		h.sendError(c, msg.Type, "payload required")
		return false
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		h.sendError(c, msg.Type, "malformed payload")
		return false
	}
	return true
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, msg IncomingMessage) {
	var p roomPayload
	if !h.decode(c, msg, &p) || p.ConversationID == "" {
		return
	}
	if h.chat == nil {
		h.join(c, p.ConversationID)
		return
	}
	ok, err := h.chat.IsParticipant(ctx, p.ConversationID, c.userID)
	if err != nil {
		logger.Errorf("ws join conv=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendError(c, msg.Type, "internal error")
		return
	}
	if !ok {
		h.sendError(c, msg.Type, "not a participant")
		return
	}
	h.join(c, p.ConversationID)
}

func (h *Hub) handleTyping(c *Client, msg IncomingMessage) {
	var p typingPayload
	if !h.decode(c, msg, &p) || p.ConversationID == "" {
		return
	}
	if !h.InRoom(c.id, p.ConversationID) {
		return
	}
	name := p.UserName
	if name == "" {
		name = c.userName
	}
	h.broadcastToRoomExcept(p.ConversationID, c, event.Envelope{Type: event.UserTyping, Payload: event.TypingPayload{
		UserID:         c.userID,
		UserName:       name,
		ConversationID: p.ConversationID,
	}})
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	var req chat.PostMessageRequest
	if !h.decode(c, msg, &req) {
		return
	}
	if h.chat == nil {
		h.sendError(c, msg.Type, "chat unavailable")
		return
	}
	if _, err := h.chat.PostMessage(ctx, c.userID, req); err != nil {
		ae := apperr.As(err)
		if ae.Code == apperr.CodeInternal {
			logger.Errorf("ws send_message user=%s: %v", c.userID, err)
		}
		h.sendError(c, msg.Type, ae.Message)
	}
}

// BroadcastToRoom шлёт ev всем сессиям комнаты.
func (h *Hub) BroadcastToRoom(room string, ev event.Envelope) {
	h.broadcastToRoomExcept(room, nil, ev)
}

func (h *Hub) broadcastToRoomExcept(room string, except *Client, ev event.Envelope) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// BroadcastAll шлёт ev всем сессиям.
func (h *Hub) BroadcastAll(ev event.Envelope) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// SendToSession доставляет ev одной сессии; false, если её уже нет.
func (h *Hub) SendToSession(session string, ev event.Envelope) bool {
	h.mu.RLock()
	c, ok := h.sessions[session]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.sendToClient(c, ev)
}

func (h *Hub) sendError(c *Client, evType, message string) {
	h.sendToClient(c, event.Envelope{Type: event.Error, Payload: event.ErrorPayload{Event: evType, Message: message}})
}

func (h *Hub) sendToClient(c *Client, ev event.Envelope) bool {
	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		// Буфер отправки полон: медленного клиента закрываем.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		h.metrics.SlowClientClosed()
		c.Close()
		return false
	}
}
