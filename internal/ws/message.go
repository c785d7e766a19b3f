package ws

import (
	"encoding/json"

	"github.com/HasheemYodhin/ys/internal/model"
)

// IncomingMessage: то, что шлёт клиент: {"type": "...", "payload": {...}}.
type IncomingMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomPayload struct {
	ConversationID string `json:"conversation_id"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserName       string `json:"user_name"`
}

type statusPayload struct {
	Status model.Status `json:"status"`
}

type callUserPayload struct {
	TargetID   string          `json:"target_id"`
	CallerName string          `json:"caller_name"`
	Offer      json.RawMessage `json:"offer"`
	Type       string          `json:"type"`
}

type answerCallPayload struct {
	TargetID string          `json:"target_id"`
	Answer   json.RawMessage `json:"answer"`
}

type iceCandidatePayload struct {
	TargetID  string          `json:"target_id"`
	Candidate json.RawMessage `json:"candidate"`
}

type endCallPayload struct {
	TargetID string `json:"target_id"`
}
