package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/chat"
	"github.com/HasheemYodhin/ys/internal/middleware"
)

type ChatHandler struct {
	svc *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// GetConversations: GET /api/chat/conversations
func (h *ChatHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.svc.ListForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// CreateConversation: POST /api/chat/conversations. 200 для существующей личной/ai-беседы, 201 для новой.
func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req chat.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	conv, created, err := h.svc.CreateConversation(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conv)
}

// GetMessages: GET /api/chat/conversations/{id}/messages?limit=N
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", chat.DefaultMessageLimit)
	msgs, err := h.svc.ListMessages(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage: POST /api/chat/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.svc.PostMessage(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Vote: POST /api/chat/messages/{id}/vote?option_id=N
func (h *ChatHandler) Vote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("option_id")
	option, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, apperr.Validation("option_id must be an integer"))
		return
	}
	msg, err := h.svc.Vote(r.Context(), chi.URLParam(r, "id"), option, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// DeleteMessage: DELETE /api/chat/messages/{id}
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.DeleteMessage(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// GetUsers: GET /api/chat/users, все пользователи кроме текущего, с присутствием.
func (h *ChatHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
