// issuer содержит серверную бизнес-логику сессий: вход по паролю,
// выпуск и ротацию пары токенов, отзыв, регистрацию и смену статуса аккаунта.
//
// Основные аспекты:
//   - Issuer не хранит состояние запроса; экземпляр безопасен для
//     конкурентного использования, если потокобезопасно хранилище.
//   - Замена текущего refresh-токена и запись в историю ротаций выполняются
//     одним атомарным обновлением аккаунта (storage.UpdateAccount).
//   - Ошибки возвращаются типизированными значениями и маппятся в HTTP
//     только транспортом (см. комментарии к переменным ниже).
package issuer

import (
	"errors"
	"fmt"
	"time"

	"github.com/pribylovaa/go-auth-session/internal/config"
	"github.com/pribylovaa/go-auth-session/internal/metrics"
	"github.com/pribylovaa/go-auth-session/internal/storage"
)

var (
	// ErrInvalidCredentials — неверный email или пароль; для обоих случаев
	// одна ошибка, чтобы не раскрывать существование аккаунта.
	// Транспорт: 401 INVALID_CREDENTIALS.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountDisabled — статус аккаунта не active. Транспорт: 401 ACCOUNT_DISABLED.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrInvalidRefreshToken — refresh-токен не принят: не совпал с текущим,
	// отозван или вне окна повторного использования. Терминальная ошибка.
	// Транспорт: 401 INVALID_REFRESH_TOKEN, requireRelogin.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRefreshTokenExpired — refresh-токен истёк и вышел за период отсрочки.
	// Транспорт: 401 TOKEN_EXPIRED, requireRelogin.
	ErrRefreshTokenExpired = fmt.Errorf("%w: expired beyond grace period", ErrInvalidRefreshToken)

	// ErrRefreshTokenMalformed — подпись/формат refresh-токена некорректны.
	// Транспорт: 401 INVALID_TOKEN, requireRelogin.
	ErrRefreshTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidRefreshToken)

	// ErrInvalidToken — access-токен некорректен по формату/подписи.
	// Транспорт: 401 INVALID_TOKEN.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия access-токена истёк. Транспорт: 401 TOKEN_EXPIRED.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidClient — неверная пара clientId/clientSecret. Транспорт: 401 INVALID_CLIENT.
	ErrInvalidClient = errors.New("invalid client")

	// ErrEmailTaken — e-mail уже занят. Транспорт: 409 EMAIL_TAKEN.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail — e-mail не проходит валидацию. Транспорт: 400 INVALID_ARGUMENT.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политике. Транспорт: 400 INVALID_ARGUMENT.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. Транспорт: 400 INVALID_ARGUMENT.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrInvalidStatus — неизвестный статус аккаунта. Транспорт: 400 INVALID_ARGUMENT.
	ErrInvalidStatus = errors.New("invalid account status")

	// ErrAccountNotFound — аккаунт не найден (административные операции).
	// Транспорт: 404 NOT_FOUND.
	ErrAccountNotFound = errors.New("account not found")
)

// Issuer — выпуск и ротация токенов.
type Issuer struct {
	storage storage.AccountStorage
	cfg     config.AuthConfig
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option настраивает Issuer.
type Option func(*Issuer)

// WithClock подменяет источник времени (тесты, сценарии с истёкшими токенами).
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithMetrics подключает счётчики операций.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

// New создаёт Issuer.
func New(st storage.AccountStorage, cfg config.AuthConfig, opts ...Option) *Issuer {
	if cfg.RotationHistory <= 0 {
		cfg.RotationHistory = 5
	}

	i := &Issuer{
		storage: st,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	return i
}

// observe пишет результат операции в метрики.
func (i *Issuer) observe(op string, err error) {
	i.metrics.IssuerOp(op, resultLabel(err))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrRefreshTokenExpired):
		return "refresh_expired"
	case errors.Is(err, ErrRefreshTokenMalformed):
		return "refresh_malformed"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid_refresh_token"
	case errors.Is(err, ErrInvalidClient):
		return "invalid_client"
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrInvalidToken):
		return "invalid_access_token"
	default:
		return "error"
	}
}
