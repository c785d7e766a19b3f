package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/middleware"
	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/HasheemYodhin/ys/internal/ws"
)

// UserDirectory: поиск имени пользователя для typing/call_incoming.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

const closeWait = 5 * time.Second

type WSHandler struct {
	hub            *ws.Hub
	users          UserDirectory
	allowedOrigins string
	upgrader       websocket.Upgrader
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, users UserDirectory, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, users: users, allowedOrigins: strings.TrimSpace(allowedOrigins)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS: GET /ws. Токен проверен middleware до upgrade.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, r, apperr.Unauthenticated("unauthorized"))
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, r, apperr.Forbidden("origin not allowed"))
		return
	}
	if h.hub.Full() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "too many connections"})
		return
	}

	userName := "Unknown"
	if u, err := h.users.GetByID(r.Context(), userID); err == nil {
		userName = u.DisplayName()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID, userName)
	if err := h.hub.Register(client); err != nil {
		msg := "server unavailable"
		if errors.Is(err, ws.ErrTooManyConnections) {
			msg = "too many connections"
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, msg), time.Now().Add(closeWait))
		conn.Close()
		return
	}
	// Жизненный цикл соединения не привязан к контексту запроса.
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
}
