// Package event: имена realtime-событий и их полезная нагрузка.
package event

import (
	"encoding/json"
	"time"

	"github.com/HasheemYodhin/ys/internal/model"
)

// Клиент -> сервер.
const (
	JoinConversation  = "join_conversation"
	LeaveConversation = "leave_conversation"
	SendMessage       = "send_message"
	Typing            = "typing"
	UpdateStatus      = "update_status"
	CallUser          = "call_user"
	AnswerCall        = "answer_call"
	ICECandidate      = "ice_candidate"
	EndCall           = "end_call"
)

// Сервер -> клиент.
const (
	NewMessage     = "new_message"
	UserTyping     = "user_typing"
	StatusUpdate   = "status_update"
	MessageUpdate  = "message_update"
	MessageDeleted = "message_deleted"
	CallIncoming   = "call_incoming"
	CallAnswered   = "call_answered"
	CallEnded      = "call_ended"
	Error          = "error"
)

// Envelope: кадр, который пишется в соединение.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type TypingPayload struct {
	UserID         string `json:"user_id,omitempty"`
	UserName       string `json:"user_name"`
	ConversationID string `json:"conversation_id"`
}

type StatusPayload struct {
	UserID   string       `json:"user_id"`
	Status   model.Status `json:"current_status"`
	IsOnline bool         `json:"is_online"`
	LastSeen time.Time    `json:"last_seen"`
}

type CallIncomingPayload struct {
	CallerID   string          `json:"caller_id"`
	CallerName string          `json:"caller_name"`
	Offer      json.RawMessage `json:"offer"`
	Type       string          `json:"type"`
}

type CallAnsweredPayload struct {
	Answer json.RawMessage `json:"answer"`
}

type ICECandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
