package model

import (
	"sort"
	"strconv"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
	ConversationAI     ConversationType = "ai"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationAI:
		return true
	}
	return false
}

// AIWelcome: превью новой ai-беседы.
const AIWelcome = "Hello! I am YS AI. How can I help you?"

type Conversation struct {
	ID              string           `json:"_id"`
	Type            ConversationType `json:"type"`
	Name            *string          `json:"name"`
	Participants    []string         `json:"participants"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	LastMessage     *string          `json:"last_message"`
	LastMessageTime *time.Time       `json:"last_message_time"`

	// UniqueKey есть у личных и ai-бесед; хранилище держит его уникальным.
	UniqueKey string `json:"-"`

	ParticipantsData []Participant `json:"participants_data,omitempty"`
}

// HasParticipant: состоит ли userID в беседе.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// DirectKey: нормализованный ключ неупорядоченной пары {a, b}. Длина первого id
// входит в ключ, поэтому id с ':' не дают совпадений между разными парами.
func DirectKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return "direct:" + strconv.Itoa(len(ids[0])) + ":" + ids[0] + ":" + ids[1]
}

// SameMembers сообщает, что участники беседы ровно ids (без учёта порядка).
func (c *Conversation) SameMembers(ids ...string) bool {
	if len(c.Participants) != len(ids) {
		return false
	}
	for _, id := range ids {
		if !c.HasParticipant(id) {
			return false
		}
	}
	return true
}

// AIKey: ключ единственной ai-беседы userID.
func AIKey(userID string) string {
	return "ai:" + userID
}
