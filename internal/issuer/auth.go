package issuer

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/pkg/log"
	"github.com/pribylovaa/go-auth-session/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-session/internal/storage"
)

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// dummyPasswordHash — хэш для сравнения, когда аккаунт не найден:
// время ответа не выдаёт существование email.
func dummyPasswordHash() []byte {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.MinCost)
	})

	return dummyHash
}

// Issue выполняет вход по email+пароль и выпускает новое семейство токенов.
// Неизвестный email и неверный пароль неразличимы (ErrInvalidCredentials).
func (i *Issuer) Issue(ctx context.Context, creds models.Credentials, client models.ClientMeta) (pair *models.TokenPair, acc *models.Account, err error) {
	const op = "issuer.auth.Issue"

	defer func() { i.observe("issue", err) }()

	ctx, lg := log.With(ctx, slog.String("email", redact.Email(creds.Email)))

	email, verr := validateEmail(creds.Email)
	if verr != nil || creds.Password == "" {
		lg.Info("login_rejected", slog.String("op", op), slog.String("reason", "bad_input"))
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	found, err := i.storage.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash(), []byte(creds.Password))
			lg.Info("login_rejected", slog.String("op", op), slog.String("reason", "unknown_email"))
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		lg.Error("account_lookup_failed", slog.String("op", op), slog.String("err", err.Error()))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(found.PasswordHash, creds.Password) {
		lg.Info("login_rejected", slog.String("op", op), slog.String("reason", "wrong_password"))
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !found.IsActive() {
		lg.Info("login_rejected", slog.String("op", op), slog.String("reason", string(found.Status)))
		return nil, nil, fmt.Errorf("%s: %w", op, ErrAccountDisabled)
	}

	now := i.now().UTC()
	pair, hash, err := i.issuePair(ctx, found, now)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	updated, err := i.storage.UpdateAccount(ctx, found.ID, func(a *models.Account) error {
		// Статус мог смениться между чтением и обновлением.
		if !a.IsActive() {
			return ErrAccountDisabled
		}

		a.RefreshTokenHash = hash
		a.RotationHistory = nil
		a.LastLoginAt = now

		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountDisabled):
			return nil, nil, fmt.Errorf("%s: %w", op, ErrAccountDisabled)
		case errors.Is(err, storage.ErrNotFound):
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		lg.Error("session_store_failed", slog.String("op", op), slog.String("err", err.Error()))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("login_succeeded",
		slog.String("user_id", updated.ID.String()),
		slog.String("client_ip", client.IP),
		slog.String("refresh", redact.Fingerprint(pair.RefreshToken)),
	)

	return pair, updated, nil
}

// Register создаёт аккаунт с ролью user и статусом active.
// Сессия не открывается: для получения токенов нужен отдельный вход.
func (i *Issuer) Register(ctx context.Context, email, name, password string) (acc *models.Account, err error) {
	const op = "issuer.auth.Register"

	defer func() { i.observe("register", err) }()

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := validatePassword(password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = i.storage.AccountByEmail(ctx, normEmail)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashed, err := i.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(normEmail, "@")
	}

	now := i.now().UTC()
	acc = &models.Account{
		ID:           uuid.New(),
		Email:        normEmail,
		Name:         name,
		PasswordHash: hashed,
		Role:         models.RoleUser,
		Status:       models.StatusActive,
		Permissions:  []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := i.storage.SaveAccount(ctx, acc); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("account_registered",
		slog.String("user_id", acc.ID.String()),
		slog.String("email", redact.Email(normEmail)),
	)

	return acc, nil
}

// Whoami проверяет access-токен и возвращает актуальный аккаунт.
// Аккаунт со статусом не active отклоняется даже с валидным токеном.
func (i *Issuer) Whoami(ctx context.Context, accessToken string) (acc *models.Account, err error) {
	const op = "issuer.auth.Whoami"

	_, uid, err := i.parseAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	acc, err = i.storage.AccountByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !acc.IsActive() {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountDisabled)
	}

	return acc, nil
}

// SetAccountStatus меняет статус аккаунта. Любой статус кроме active
// сразу отзывает текущий refresh-токен и историю ротаций.
func (i *Issuer) SetAccountStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus) (acc *models.Account, err error) {
	const op = "issuer.auth.SetAccountStatus"

	defer func() { i.observe("set_status", err) }()

	if !status.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidStatus)
	}

	acc, err = i.storage.UpdateAccount(ctx, id, func(a *models.Account) error {
		a.Status = status
		if status != models.StatusActive {
			a.ClearRefresh()
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("account_status_changed",
		slog.String("user_id", id.String()),
		slog.String("status", string(status)),
	)

	return acc, nil
}

// VerifyClient сверяет учётные данные клиентского приложения.
// Пустой ClientID в конфигурации отключает проверку.
func (i *Issuer) VerifyClient(clientID, clientSecret string) error {
	const op = "issuer.auth.VerifyClient"

	if i.cfg.ClientID == "" {
		return nil
	}

	idOK := subtle.ConstantTimeCompare([]byte(clientID), []byte(i.cfg.ClientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(clientSecret), []byte(i.cfg.ClientSecret)) == 1
	if !idOK || !secretOK {
		return fmt.Errorf("%s: %w", op, ErrInvalidClient)
	}

	return nil
}

// hashPassword хэширует пароль с помощью bcrypt.
func (i *Issuer) hashPassword(password string) (string, error) {
	const op = "issuer.auth.hashPassword"

	cost := i.cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateEmail проверяет формат email, обрезает пробелы и приводит к нижнему регистру.
func validateEmail(raw string) (string, error) {
	const op = "issuer.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword проверяет минимальные требования к паролю.
// Политика: длина >= 8, хотя бы одна строчная, заглавная, цифра и спецсимвол.
func validatePassword(pw string) error {
	const op = "issuer.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len([]rune(pw)) < 8 {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasLower || !hasUpper || !hasDigit || !hasSpecial {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
