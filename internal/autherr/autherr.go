// autherr — типизированные ошибки клиентской стороны сессии и таблица
// решений «вид ошибки → действие».
//
// Классификацию выполняет транспортный клиент (authapi), решения принимает
// только session.Client; остальные пакеты ошибки лишь пробрасывают.
package autherr

import (
	"context"
	"errors"
	"fmt"
)

// Kind — вид ошибки аутентификации.
type Kind int

const (
	// KindUnknown — неклассифицированная ошибка, считается временной.
	KindUnknown Kind = iota
	// KindInvalidCredentials — неверный email или пароль (терминальная).
	KindInvalidCredentials
	// KindAccountDisabled — аккаунт не активен (терминальная).
	KindAccountDisabled
	// KindInvalidRefreshToken — refresh-токен отклонён, нужен повторный вход.
	KindInvalidRefreshToken
	// KindInvalidAccessToken — access-токен отклонён (401 на whoami).
	KindInvalidAccessToken
	// KindRejected — запрос отклонён сервером (4xx, не связанные с токенами).
	KindRejected
	// KindNetwork — ответа нет: соединение, DNS, таймаут.
	KindNetwork
	// KindServer — 5xx/429 или нечитаемый ответ.
	KindServer
	// KindMalformedToken — локально сохранённый токен повреждён.
	KindMalformedToken
	// KindCanceled — операция прервана закрытием сессии.
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindInvalidCredentials:  "invalid_credentials",
	KindAccountDisabled:     "account_disabled",
	KindInvalidRefreshToken: "invalid_refresh_token",
	KindInvalidAccessToken:  "invalid_access_token",
	KindRejected:            "rejected",
	KindNetwork:             "network",
	KindServer:              "server",
	KindMalformedToken:      "malformed_token",
	KindCanceled:            "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Error — ошибка с видом, машинным кодом сервера и операцией.
type Error struct {
	Kind Kind
	// Code — код из тела ответа сервера (INVALID_CREDENTIALS и т.п.), если был.
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New собирает *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithCode собирает *Error с кодом сервера.
func WithCode(kind Kind, code, op string, err error) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Err: err}
}

// KindOf возвращает вид ошибки. Отмена контекста распознаётся как
// KindCanceled, прочие нетипизированные ошибки — KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	return KindUnknown
}

// IsTerminal — ошибка требует участия пользователя, повторять бессмысленно.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindInvalidCredentials, KindAccountDisabled, KindInvalidRefreshToken, KindMalformedToken:
		return true
	}

	return false
}

// IsTransient — сервер недоступен или ответил временной ошибкой.
// Неклассифицированные ошибки тоже считаются временными.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch KindOf(err) {
	case KindNetwork, KindServer, KindUnknown:
		return true
	}

	return false
}
