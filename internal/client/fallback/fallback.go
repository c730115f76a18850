// fallback — аутентификация по локальным данным, когда сервер недоступен.
//
// Восстановление разрешено только если одновременно:
//   - последняя ошибка временная (сеть, 5xx);
//   - сохранённый access-токен структурно является JWT (три сегмента,
//     заполнены sub и exp); подпись не проверяется, ключа у клиента нет;
//   - в кэше есть профиль того же пользователя.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pribylovaa/go-auth-session/internal/autherr"
	"github.com/pribylovaa/go-auth-session/internal/client/tokenstore"
	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/pkg/log"
)

// Source — то, что нужно от хранилища токенов.
type Source interface {
	Session(ctx context.Context) (*tokenstore.Session, error)
	Profile(ctx context.Context) (*models.UserProfile, error)
}

type Authenticator struct {
	src    Source
	parser *jwt.Parser
}

func New(src Source) *Authenticator {
	return &Authenticator{src: src, parser: jwt.NewParser()}
}

// TryRecover возвращает состояние, собранное из кэша, и true, если все
// условия восстановления выполнены. Срок exp токена становится ExpiresAt.
func (a *Authenticator) TryRecover(ctx context.Context, lastErr error) (*models.AuthState, bool) {
	l := log.From(ctx).With(slog.String("op", "fallback.TryRecover"))

	if !autherr.IsTransient(lastErr) {
		l.Debug("fallback_skipped", slog.String("reason", "not_transient"))
		return nil, false
	}

	sess, err := a.src.Session(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNoSession) {
			l.Warn("fallback_store_failed", slog.String("err", err.Error()))
		}
		return nil, false
	}

	claims, ok := a.inspect(sess.AccessToken)
	if !ok {
		l.Info("fallback_skipped", slog.String("reason", "malformed_token"))
		return nil, false
	}

	profile, err := a.src.Profile(ctx)
	if err != nil || profile == nil {
		l.Info("fallback_skipped", slog.String("reason", "no_cached_profile"))
		return nil, false
	}

	if profile.ID != claims.Subject {
		l.Warn("fallback_skipped", slog.String("reason", "profile_mismatch"))
		return nil, false
	}

	state := models.StateFromProfile(*profile, claims.ExpiresAt.Time)
	l.Info("fallback_recovered", slog.String("user_id", profile.ID))

	return &state, true
}

// inspect разбирает токен без проверки подписи и требует sub и exp.
func (a *Authenticator) inspect(token string) (*jwt.RegisteredClaims, bool) {
	if token == "" || strings.Count(token, ".") != 2 {
		return nil, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := a.parser.ParseUnverified(token, &claims); err != nil {
		return nil, false
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, false
	}

	return &claims, true
}
