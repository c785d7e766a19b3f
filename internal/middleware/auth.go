package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/auth"
	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/HasheemYodhin/ys/internal/repository"
)

// TokenVerifier проверяет bearer-токен.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// UserLookup находит пользователя по e-mail для токенов, где sub: адрес.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// BearerAuth проверяет Authorization: Bearer <jwt>. allowQuery разрешает ?token=:
// браузер не может выставить заголовок при WebSocket upgrade.
func BearerAuth(verifier TokenVerifier, users UserLookup, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" && allowQuery {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				WriteError(w, apperr.Unauthenticated("missing bearer token"))
				return
			}
			id, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "token has expired"
				}
				logger.Debugf("auth: rejected token=%s: %v", MaskToken(token), err)
				WriteError(w, apperr.Unauthenticated(msg))
				return
			}
			if id.UserID == "" {
				u, err := users.GetByEmail(r.Context(), id.Email)
				if err != nil {
					if !errors.Is(err, repository.ErrNotFound) {
						logger.Errorf("auth: resolve email: %v", err)
						WriteError(w, apperr.Internal("internal error", err))
						return
					}
					WriteError(w, apperr.Unauthenticated("unknown user"))
					return
				}
				id.UserID = u.ID
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id.UserID, id.Email)))
		})
	}
}

// WriteError отдаёт ошибку в формате {"error": "...", "code": "..."}.
func WriteError(w http.ResponseWriter, e *apperr.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}
