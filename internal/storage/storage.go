// storage задаёт контракт хранилища аккаунтов и семейств refresh-токенов.
//
// Реализации: postgres (блокировка строки в транзакции), mongo
// (compare-and-swap по версии документа) и memory (мьютекс).
package storage

//go:generate mockgen -source=storage.go -destination=../../mocks/storage_mock.go -package=mocks

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-session/internal/models"
)

var (
	// ErrNotFound — аккаунт не найден.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (id/email).
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict — параллельное изменение не удалось разрешить за отведённые попытки.
	ErrConflict = errors.New("concurrent update conflict")
)

// UpdateFunc изменяет аккаунт внутри атомарного обновления.
// Ошибка из функции прерывает обновление и возвращается вызывающему как есть
// (в обёртке, доступной через errors.Is).
type UpdateFunc func(acc *models.Account) error

// AccountStorage выполняет операции над аккаунтами.
type AccountStorage interface {
	// SaveAccount создаёт аккаунт.
	SaveAccount(ctx context.Context, acc *models.Account) error
	// AccountByEmail находит аккаунт по email (без учёта регистра).
	AccountByEmail(ctx context.Context, email string) (*models.Account, error)
	// AccountByID находит аккаунт по ID.
	AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// UpdateAccount атомарно читает аккаунт, применяет fn и сохраняет результат.
	// Два параллельных вызова для одного аккаунта никогда не видят одно и то же
	// исходное состояние. Email и CreatedAt не изменяются.
	UpdateAccount(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*models.Account, error)
}

// Storage задаёт контракт работы с БД.
type Storage interface {
	AccountStorage
	// Ping проверяет доступность хранилища (для /healthz).
	Ping(ctx context.Context) error
	Close()
}
