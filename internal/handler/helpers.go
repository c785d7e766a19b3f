package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/logger"
)

// maxJSONBody ограничивает тело JSON-запросов (вложения идут через upload).
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

// writeError переводит ошибку сервиса в {"error", "code"} со статусом из apperr.
// Внутренние ошибки логируются, клиенту уходит только сообщение.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	if e.Status >= http.StatusInternalServerError {
		logger.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", e.Code),
			zap.Error(err))
	}
	writeJSON(w, e.Status, e)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("invalid body")
	}
	return nil
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
