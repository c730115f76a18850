// tokenstore — локальное хранилище сессии клиента: access/refresh-токены,
// момент истечения и кэшированный профиль. Бизнес-логики не содержит.
//
// Данные лежат в KV с областью видимости (scope): несколько профилей
// одного клиента не пересекаются по ключам.
package tokenstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound — ключ отсутствует.
var ErrNotFound = errors.New("key not found")

// KV — минимальная поверхность хранилища ключ-значение.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// MemoryKV — KV в памяти процесса.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}

	return v, nil
}

func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()

	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()

	return nil
}
