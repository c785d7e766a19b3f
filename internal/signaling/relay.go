// Package signaling пересылает WebRTC offer/answer/ICE между двумя живыми сессиями.
// Содержимое offer, answer и candidate не разбирается.
package signaling

import (
	"encoding/json"
	"sync"

	"github.com/HasheemYodhin/ys/internal/event"
	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/metrics"
)

// Resolver: текущая сессия пользователя (реестр присутствия).
type Resolver interface {
	Resolve(userID string) (string, bool)
}

// Sender доставляет событие в конкретную сессию; false: сессии уже нет.
type Sender interface {
	SendToSession(session string, ev event.Envelope) bool
}

// Relay хранит пары собеседников активных звонков, чтобы завершить звонок,
// если одна из сторон отключилась без end_call.
type Relay struct {
	resolver Resolver
	sender   Sender
	metrics  *metrics.Metrics

	mu    sync.Mutex
	peers map[string]string // user_id -> собеседник
}

func NewRelay(resolver Resolver, sender Sender, m *metrics.Metrics) *Relay {
	return &Relay{
		resolver: resolver,
		sender:   sender,
		metrics:  m,
		peers:    make(map[string]string),
	}
}

func (r *Relay) deliver(target string, ev event.Envelope) bool {
	session, ok := r.resolver.Resolve(target)
	delivered := ok && r.sender.SendToSession(session, ev)
	if !delivered {
		logger.Debugf("signaling: %s to user=%s dropped, no live session", ev.Type, target)
	}
	r.metrics.Relay(ev.Type, delivered)
	return delivered
}

// CallOffer отправляет call_incoming целевому пользователю.
func (r *Relay) CallOffer(from, fromName, target string, offer json.RawMessage, kind string) bool {
	ok := r.deliver(target, event.Envelope{Type: event.CallIncoming, Payload: event.CallIncomingPayload{
		CallerID:   from,
		CallerName: fromName,
		Offer:      offer,
		Type:       kind,
	}})
	if ok {
		r.pair(from, target)
	}
	return ok
}

func (r *Relay) CallAnswer(from, target string, answer json.RawMessage) bool {
	ok := r.deliver(target, event.Envelope{Type: event.CallAnswered, Payload: event.CallAnsweredPayload{Answer: answer}})
	if ok {
		r.pair(from, target)
	}
	return ok
}

func (r *Relay) ICECandidate(target string, candidate json.RawMessage) bool {
	return r.deliver(target, event.Envelope{Type: event.ICECandidate, Payload: event.ICECandidatePayload{Candidate: candidate}})
}

// EndCall отправляет call_ended без payload.
func (r *Relay) EndCall(from, target string) bool {
	r.unpair(from, target)
	return r.deliver(target, event.Envelope{Type: event.CallEnded})
}

// Disconnected завершает звонок пользователя, у которого не осталось сессии.
func (r *Relay) Disconnected(userID string) {
	r.mu.Lock()
	peer, ok := r.peers[userID]
	if ok {
		delete(r.peers, userID)
		if r.peers[peer] == userID {
			delete(r.peers, peer)
		}
	}
	r.mu.Unlock()
	if ok {
		r.deliver(peer, event.Envelope{Type: event.CallEnded})
	}
}

// InCall сообщает, есть ли у пользователя незавершённый звонок.
func (r *Relay) InCall(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[userID]
	return ok
}

func (r *Relay) pair(a, b string) {
	if a == "" || b == "" {
		return
	}
	r.mu.Lock()
	r.peers[a] = b
	r.peers[b] = a
	r.mu.Unlock()
}

func (r *Relay) unpair(a, b string) {
	r.mu.Lock()
	if r.peers[a] == b {
		delete(r.peers, a)
	}
	if r.peers[b] == a {
		delete(r.peers, b)
	}
	r.mu.Unlock()
}
