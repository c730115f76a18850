// memory — хранилище аккаунтов в памяти процесса. Используется в локальном
// окружении (db.driver=memory) и в тестах, где нужна реальная семантика
// атомарных обновлений без внешней БД.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/storage"
)

// Storage хранит копии аккаунтов; наружу всегда отдаются копии.
type Storage struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.Account
	byEmail map[string]uuid.UUID
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		byID:    make(map[uuid.UUID]*models.Account),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *Storage) SaveAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.memory.SaveAccount"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(acc.Email)
	if _, ok := s.byID[acc.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.byEmail[key]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	s.byID[acc.ID] = acc.Clone()
	s.byEmail[key] = acc.ID

	return nil
}

func (s *Storage) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "storage.memory.AccountByEmail"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return s.byID[id].Clone(), nil
}

func (s *Storage) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	const op = "storage.memory.AccountByID"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return acc.Clone(), nil
}

// UpdateAccount выполняет fn под общим мьютексом хранилища.
func (s *Storage) UpdateAccount(ctx context.Context, id uuid.UUID, fn storage.UpdateFunc) (*models.Account, error) {
	const op = "storage.memory.UpdateAccount"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	next.ID = cur.ID
	next.Email = cur.Email
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	next.Version = cur.Version + 1

	s.byID[id] = next

	return next.Clone(), nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close() {}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)
