// errors стандартизирует ответы об ошибках HTTP API сессий.
// На вход принимает доменную ошибку issuer, на выход даёт:
//   - HTTP-статус;
//   - стабильный машиночитаемый код и безопасное сообщение;
//   - признак requireRelogin для ошибок, после которых сессию не восстановить.
//
// Детали внутренних ошибок наружу не отдаются.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/go-auth-session/internal/api"
	"github.com/pribylovaa/go-auth-session/internal/issuer"
)

// StatusClientClosedRequest — нестандартный код "клиент закрыл соединение".
const StatusClientClosedRequest = 499

var (
	// ErrInvalidArgument — тело запроса не разобрано или не прошло проверку.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthenticated — нет Bearer-токена.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden — роль не допускает операцию.
	ErrForbidden = errors.New("forbidden")
)

// ToHTTP конвертирует ошибку в HTTP-статус и тело ответа.
// err == nil считается программной ошибкой вызова и даёт 500.
// Порядок проверок важен: ошибки refresh-токена вложены в ErrInvalidRefreshToken.
func ToHTTP(err error) (int, api.Error) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, api.Error{Code: api.CodeInternal, Message: "internal error"}

	case errors.Is(err, issuer.ErrInvalidCredentials):
		return http.StatusUnauthorized, api.Error{Code: api.CodeInvalidCredentials, Message: "invalid email or password"}
	case errors.Is(err, issuer.ErrAccountDisabled):
		return http.StatusUnauthorized, api.Error{Code: api.CodeAccountDisabled, Message: "account disabled", RequireRelogin: true}
	case errors.Is(err, issuer.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, api.Error{Code: api.CodeTokenExpired, Message: "refresh token expired", RequireRelogin: true}
	case errors.Is(err, issuer.ErrRefreshTokenMalformed):
		return http.StatusUnauthorized, api.Error{Code: api.CodeInvalidToken, Message: "invalid token", RequireRelogin: true}
	case errors.Is(err, issuer.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, api.Error{Code: api.CodeInvalidRefreshToken, Message: "invalid refresh token", RequireRelogin: true}
	case errors.Is(err, issuer.ErrTokenExpired):
		return http.StatusUnauthorized, api.Error{Code: api.CodeTokenExpired, Message: "token expired"}
	case errors.Is(err, issuer.ErrInvalidToken):
		return http.StatusUnauthorized, api.Error{Code: api.CodeInvalidToken, Message: "invalid token"}
	case errors.Is(err, issuer.ErrInvalidClient):
		return http.StatusUnauthorized, api.Error{Code: api.CodeInvalidClient, Message: "invalid client"}
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, api.Error{Code: api.CodeUnauthenticated, Message: "unauthenticated"}

	case errors.Is(err, issuer.ErrInvalidEmail),
		errors.Is(err, issuer.ErrWeakPassword),
		errors.Is(err, issuer.ErrEmptyPassword),
		errors.Is(err, issuer.ErrInvalidStatus),
		errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest, api.Error{Code: api.CodeInvalidArgument, Message: argumentMessage(err)}
	case errors.Is(err, issuer.ErrEmailTaken):
		return http.StatusConflict, api.Error{Code: api.CodeEmailTaken, Message: "email already taken"}
	case errors.Is(err, issuer.ErrAccountNotFound):
		return http.StatusNotFound, api.Error{Code: api.CodeNotFound, Message: "not found"}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, api.Error{Code: api.CodeForbidden, Message: "forbidden"}

	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, api.Error{Code: api.CodeCanceled, Message: "canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, api.Error{Code: api.CodeInternal, Message: "deadline exceeded"}

	default:
		return http.StatusInternalServerError, api.Error{Code: api.CodeInternal, Message: "internal error"}
	}
}

// argumentMessage — безопасное пояснение к 400.
func argumentMessage(err error) string {
	switch {
	case errors.Is(err, issuer.ErrInvalidEmail):
		return "invalid email format"
	case errors.Is(err, issuer.ErrEmptyPassword):
		return "password is empty"
	case errors.Is(err, issuer.ErrWeakPassword):
		return "password is too weak"
	case errors.Is(err, issuer.ErrInvalidStatus):
		return "invalid account status"
	default:
		return "invalid argument"
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет статус и тело, добавляет requestId из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := ToHTTP(err)

	if rid := r.Header.Get(api.HeaderRequestID); rid != "" {
		body.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
