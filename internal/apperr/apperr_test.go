package apperr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
		code   string
	}{
		{Validation("bad"), http.StatusBadRequest, CodeValidation},
		{Unauthenticated("who"), http.StatusUnauthorized, CodeUnauthenticated},
		{Forbidden("no"), http.StatusForbidden, CodeForbidden},
		{NotFound("gone"), http.StatusNotFound, CodeNotFound},
		{External("ai", io.EOF), http.StatusBadGateway, CodeExternal},
		{Internal("boom", io.EOF), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestIsMatchesCode(t *testing.T) {
	wrapped := fmt.Errorf("chat.PostMessage: %w", Forbidden("not a participant"))

	assert.ErrorIs(t, wrapped, ErrForbidden)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.ErrorIs(t, wrapped, Forbidden("not a participant"))
	assert.NotErrorIs(t, wrapped, Forbidden("other message"))
}

func TestAs(t *testing.T) {
	e := As(fmt.Errorf("wrap: %w", NotFound("conversation not found")))
	assert.Equal(t, CodeNotFound, e.Code)
	assert.Equal(t, "conversation not found", e.Message)

	plain := errors.New("db down")
	e = As(plain)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.ErrorIs(t, e, plain)
	assert.Contains(t, e.Error(), "db down")
}
