package handler

import (
	"net/http"

	"github.com/HasheemYodhin/ys/internal/config"
)

// VAPIDSource отдаёт публичный VAPID-ключ; пустая строка: push отключены.
type VAPIDSource interface {
	PublicKey() string
}

// ConfigHandler отдаёт публичные параметры конфигурации.
type ConfigHandler struct {
	cfg  *config.Config
	push VAPIDSource
}

func NewConfigHandler(cfg *config.Config, push VAPIDSource) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, push: push}
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	key := ""
	if h.push != nil {
		key = h.push.PublicKey()
	}
	if key == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": key,
	})
}

// GetCallConfig возвращает ICE-серверы для WebRTC.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ice_servers": h.cfg.CallICEServers,
	})
}
