// Package apperr: ошибки, которые видит клиент API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeExternal        = "EXTERNAL_SERVICE_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error несёт HTTP-статус и стабильный код рядом с сообщением.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает по Code, чтобы работали errors.Is с сентинелами ниже.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func newError(status int, code, msg string) *Error {
	return &Error{Status: status, Code: code, Message: msg}
}

func Validation(msg string) *Error {
	return newError(http.StatusBadRequest, CodeValidation, msg)
}

func Unauthenticated(msg string) *Error {
	return newError(http.StatusUnauthorized, CodeUnauthenticated, msg)
}

func Forbidden(msg string) *Error {
	return newError(http.StatusForbidden, CodeForbidden, msg)
}

func NotFound(msg string) *Error {
	return newError(http.StatusNotFound, CodeNotFound, msg)
}

// External: сбой внешнего сервиса (AI-провайдер, push-сервис).
func External(msg string, err error) *Error {
	e := newError(http.StatusBadGateway, CodeExternal, msg)
	e.Err = err
	return e
}

func Internal(msg string, err error) *Error {
	e := newError(http.StatusInternalServerError, CodeInternal, msg)
	e.Err = err
	return e
}

// Сентинелы для errors.Is; сравнивается только Code.
var (
	ErrValidation      = &Error{Code: CodeValidation}
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated}
	ErrForbidden       = &Error{Code: CodeForbidden}
	ErrNotFound        = &Error{Code: CodeNotFound}
)

// As достаёт *Error; всё остальное становится внутренней ошибкой.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", err)
}
