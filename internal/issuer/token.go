package issuer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/pkg/log"
)

const refreshTokenType = "refresh"

// accessClaims — полезная нагрузка access-токена.
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// refreshClaims — полезная нагрузка refresh-токена; подписывается отдельным секретом.
type refreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// newTokenID — уникальный jti; монотонная энтропия ULID различает токены,
// выпущенные в одну миллисекунду.
func newTokenID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// hashToken — SHA-256 токена в base64url; в хранилище попадает только хэш.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// issuePair выпускает новую пару для аккаунта и возвращает хэш refresh-токена.
func (i *Issuer) issuePair(ctx context.Context, acc *models.Account, now time.Time) (*models.TokenPair, string, error) {
	const op = "issuer.token.issuePair"

	lg := log.From(ctx)

	accessExp := now.Add(i.cfg.AccessTokenTTL)
	access := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email: acc.Email,
		Role:  string(acc.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        newTokenID(now),
			Subject:   acc.ID.String(),
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings(i.cfg.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})

	accessSigned, err := access.SignedString([]byte(i.cfg.JWTSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims{
		Type: refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        newTokenID(now),
			Subject:   acc.ID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.RefreshTokenTTL)),
		},
	})

	refreshSigned, err := refresh.SignedString([]byte(i.cfg.RefreshSecret))
	if err != nil {
		lg.Error("refresh_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessSigned,
		RefreshToken:    refreshSigned,
		AccessExpiresAt: accessExp,
		IssuedAt:        now,
	}, hashToken(refreshSigned), nil
}

// parseRefresh проверяет подпись refresh-токена с допуском ClockTolerance.
// Если токен истёк, но в пределах GracePeriod, возвращает claims и expired=true.
func (i *Issuer) parseRefresh(token string) (*refreshClaims, uuid.UUID, bool, error) {
	const op = "issuer.token.parseRefresh"

	claims := &refreshClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) {
			return []byte(i.cfg.RefreshSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(i.cfg.ClockTolerance),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	expired := false
	if err != nil {
		// Подпись проверяется до claims, поэтому при ErrTokenExpired содержимое подлинное.
		if !errors.Is(err, jwt.ErrTokenExpired) || claims.ExpiresAt == nil {
			return nil, uuid.Nil, false, fmt.Errorf("%s: %w", op, ErrRefreshTokenMalformed)
		}

		if i.now().Sub(claims.ExpiresAt.Time) > i.cfg.GracePeriod {
			return nil, uuid.Nil, false, fmt.Errorf("%s: %w", op, ErrRefreshTokenExpired)
		}

		expired = true
	}

	if claims.Type != refreshTokenType {
		return nil, uuid.Nil, false, fmt.Errorf("%s: %w", op, ErrRefreshTokenMalformed)
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, uuid.Nil, false, fmt.Errorf("%s: %w", op, ErrRefreshTokenMalformed)
	}

	return claims, uid, expired, nil
}

// parseRefreshSubject проверяет только подпись и возвращает владельца токена.
// Срок действия не учитывается: выход должен работать и с истёкшим токеном.
func (i *Issuer) parseRefreshSubject(token string) (uuid.UUID, error) {
	const op = "issuer.token.parseRefreshSubject"

	claims := &refreshClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) {
			return []byte(i.cfg.RefreshSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || claims.Type != refreshTokenType {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenMalformed)
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenMalformed)
	}

	return uid, nil
}

// parseAccess валидирует access-токен.
func (i *Issuer) parseAccess(token string) (*accessClaims, uuid.UUID, error) {
	const op = "issuer.token.parseAccess"

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) {
			return []byte(i.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(i.cfg.ClockTolerance),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience...),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return claims, uid, nil
}
