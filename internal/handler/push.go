package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/middleware"
	"github.com/HasheemYodhin/ys/internal/storage"
)

type Subscriptions interface {
	Subscribe(ctx context.Context, userID string, sub storage.Subscription) error
	Unsubscribe(ctx context.Context, userID, endpoint string) error
}

// PushHandler обрабатывает подписку на пуш-уведомления текущего пользователя.
type PushHandler struct {
	subs Subscriptions
}

func NewPushHandler(subs Subscriptions) *PushHandler {
	return &PushHandler{subs: subs}
}

// SubscribeRequest: тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription storage.Subscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := h.subs.Subscribe(r.Context(), middleware.GetUserID(r.Context()), req.Subscription)
	switch {
	case errors.Is(err, storage.ErrInvalidSubscription):
		writeError(w, r, apperr.Validation(err.Error()))
		return
	case err != nil:
		writeError(w, r, apperr.Internal("failed to subscribe", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Endpoint == "" {
		writeError(w, r, apperr.Validation("endpoint required"))
		return
	}
	if err := h.subs.Unsubscribe(r.Context(), middleware.GetUserID(r.Context()), req.Endpoint); err != nil {
		writeError(w, r, apperr.Internal("failed to unsubscribe", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
