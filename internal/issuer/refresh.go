package issuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/pkg/log"
	"github.com/pribylovaa/go-auth-session/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-session/internal/storage"
)

// Refresh обменивает refresh-токен на новую пару.
//
// Правила приёма предъявленного токена:
//   - подпись проверяется с допуском ClockTolerance;
//   - истёкший токен принимается, если истёк не более GracePeriod назад
//     и всё ещё является текущим (однократно: после ротации он уже не текущий);
//   - текущий токен ротируется;
//   - недавно замещённый токен (не старше ReuseWindow) принимается, и
//     ротируется текущий токен; истёкшие токены этим путём не проходят;
//   - всё прочее — ErrInvalidRefreshToken.
//
// Запись в историю и замена текущего токена выполняются одним атомарным
// обновлением аккаунта.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string, client models.ClientMeta) (pair *models.TokenPair, err error) {
	const op = "issuer.refresh.Refresh"

	defer func() { i.observe("refresh", err) }()

	ctx, lg := log.With(ctx, slog.String("refresh", redact.Fingerprint(refreshToken)))

	_, uid, expired, err := i.parseRefresh(refreshToken)
	if err != nil {
		lg.Info("refresh_rejected", slog.String("op", op), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	presented := hashToken(refreshToken)
	now := i.now().UTC()

	var (
		newPair *models.TokenPair
		reused  bool
	)

	_, err = i.storage.UpdateAccount(ctx, uid, func(a *models.Account) error {
		if !a.IsActive() {
			return ErrAccountDisabled
		}

		switch {
		case a.RefreshTokenHash != "" && presented == a.RefreshTokenHash:
		case !expired && a.RefreshTokenHash != "" && a.RecentlyRotated(presented, now, i.cfg.ReuseWindow):
			reused = true
		default:
			return ErrInvalidRefreshToken
		}

		p, hash, err := i.issuePair(ctx, a, now)
		if err != nil {
			return err
		}

		a.PushRotation(models.RotationRecord{
			TokenHash: a.RefreshTokenHash,
			RotatedAt: now,
			Client:    client,
		}, i.cfg.RotationHistory)
		a.RefreshTokenHash = hash
		a.LastTokenRefreshAt = now
		newPair = p

		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountDisabled):
			lg.Info("refresh_rejected", slog.String("op", op), slog.String("reason", "account_disabled"))
			return nil, fmt.Errorf("%s: %w", op, ErrAccountDisabled)
		case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, storage.ErrNotFound):
			lg.Info("refresh_rejected", slog.String("op", op), slog.String("reason", "not_current"))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}

		lg.Error("refresh_store_failed", slog.String("op", op), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("refresh_rotated",
		slog.String("user_id", uid.String()),
		slog.Bool("grace", expired),
		slog.Bool("reused", reused),
		slog.String("client_ip", client.IP),
	)

	return newPair, nil
}

// Revoke сбрасывает текущий refresh-токен и историю ротаций аккаунта.
// Повторный вызов и отсутствующий аккаунт не считаются ошибкой.
func (i *Issuer) Revoke(ctx context.Context, userID uuid.UUID) (err error) {
	const op = "issuer.refresh.Revoke"

	defer func() { i.observe("revoke", err) }()

	_, err = i.storage.UpdateAccount(ctx, userID, func(a *models.Account) error {
		a.ClearRefresh()
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("session_revoked", slog.String("user_id", userID.String()))

	return nil
}

// Logout отзывает семейство, к которому принадлежит refreshToken.
// Истёкший, неизвестный или уже отозванный токен — не ошибка.
func (i *Issuer) Logout(ctx context.Context, refreshToken string) (err error) {
	const op = "issuer.refresh.Logout"

	defer func() { i.observe("logout", err) }()

	lg := log.From(ctx)

	uid, perr := i.parseRefreshSubject(refreshToken)
	if perr != nil {
		lg.Debug("logout_unknown_token", slog.String("op", op))
		return nil
	}

	presented := hashToken(refreshToken)

	_, err = i.storage.UpdateAccount(ctx, uid, func(a *models.Account) error {
		if a.RefreshTokenHash != presented && !a.InHistory(presented) {
			return ErrInvalidRefreshToken
		}

		a.ClearRefresh()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) || errors.Is(err, storage.ErrNotFound) {
			lg.Debug("logout_stale_token", slog.String("op", op), slog.String("user_id", uid.String()))
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("logout_succeeded",
		slog.String("user_id", uid.String()),
		slog.String("refresh", redact.Fingerprint(refreshToken)),
	)

	return nil
}
