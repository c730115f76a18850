package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pribylovaa/go-auth-session/internal/models"
)

// Ключи внутри области видимости.
const (
	KeyAccessToken   = "accessToken"
	KeyRefreshToken  = "refreshToken"
	KeyExpiresAt     = "expiresAt"
	KeyCachedProfile = "cachedProfile"
)

// ErrNoSession — в хранилище нет токенов.
var ErrNoSession = errors.New("no stored session")

// Session — сохранённые токены. ExpiresAt — истечение access-токена.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Store — типизированный доступ к KV в пределах одной области видимости.
// Запись разрешена только владельцу сессии (session.Client).
type Store struct {
	kv    KV
	scope string
}

// New создаёт Store; пустой scope заменяется на "default".
func New(kv KV, scope string) *Store {
	if scope == "" {
		scope = "default"
	}

	return &Store{kv: kv, scope: scope}
}

func (s *Store) key(name string) string {
	return s.scope + "/" + name
}

// SaveTokens сохраняет пару. Срок истечения хранится в Unix-секундах.
func (s *Store) SaveTokens(ctx context.Context, pair *models.TokenPair) error {
	const op = "tokenstore.SaveTokens"

	values := []struct{ k, v string }{
		{KeyAccessToken, pair.AccessToken},
		{KeyRefreshToken, pair.RefreshToken},
		{KeyExpiresAt, strconv.FormatInt(pair.AccessExpiresAt.Unix(), 10)},
	}

	for _, kv := range values {
		if err := s.kv.Set(ctx, s.key(kv.k), kv.v); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

// Session возвращает сохранённые токены или ErrNoSession.
// Отсутствующий или нечитаемый срок истечения даёт нулевое время.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	const op = "tokenstore.Session"

	access, err := s.get(ctx, KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := s.get(ctx, KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if access == "" && refresh == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}

	out := &Session{AccessToken: access, RefreshToken: refresh}

	raw, err := s.get(ctx, KeyExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sec, perr := strconv.ParseInt(raw, 10, 64); perr == nil && sec > 0 {
		out.ExpiresAt = time.Unix(sec, 0).UTC()
	}

	return out, nil
}

// SaveProfile кэширует профиль для офлайн-восстановления.
func (s *Store) SaveProfile(ctx context.Context, p models.UserProfile) error {
	const op = "tokenstore.SaveProfile"

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.kv.Set(ctx, s.key(KeyCachedProfile), string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Profile возвращает кэшированный профиль; (nil, nil), если его нет
// или он повреждён.
func (s *Store) Profile(ctx context.Context) (*models.UserProfile, error) {
	const op = "tokenstore.Profile"

	raw, err := s.get(ctx, KeyCachedProfile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if raw == "" {
		return nil, nil
	}

	var p models.UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.ID == "" {
		return nil, nil
	}

	return &p, nil
}

// Clear удаляет все ключи области видимости. Повторный вызов безопасен.
func (s *Store) Clear(ctx context.Context) error {
	const op = "tokenstore.Clear"

	err := s.kv.Delete(ctx,
		s.key(KeyAccessToken),
		s.key(KeyRefreshToken),
		s.key(KeyExpiresAt),
		s.key(KeyCachedProfile),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// get — значение ключа; отсутствие ключа даёт пустую строку.
func (s *Store) get(ctx context.Context, name string) (string, error) {
	v, err := s.kv.Get(ctx, s.key(name))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}

	return v, err
}
