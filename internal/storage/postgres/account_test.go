package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/storage"
)

// Интеграционные тесты хранилища аккаунтов:
// - поднимают PostgreSQL через testcontainers-go (postgres:16-alpine);
// - применяют встроенные миграции через golang-migrate;
// - проверяют уникальность email (CITEXT), чтение/запись истории ротаций (JSONB)
//   и сериализацию параллельных UpdateAccount блокировкой строки.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

// startPostgres поднимает временный PostgreSQL, применяет миграции и
// возвращает хранилище и функцию очистки.
func startPostgres(t *testing.T) (*Storage, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432/tcp")
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	require.NoError(t, Migrate(dsn, "up"))

	st, err := New(ctx, dsn)
	require.NoError(t, err)

	cleanup := func() {
		st.Close()
		_ = c.Terminate(context.Background())
	}
	return st, cleanup
}

func newAccount(email string) *models.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Account{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Test",
		PasswordHash: "hash",
		Role:         models.RoleAdmin,
		Status:       models.StatusActive,
		Permissions:  []string{"projects:read"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestIntegration_SaveAndLookup_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	acc := newAccount("User@Example.Com")
	require.NoError(t, st.SaveAccount(ctx, acc))

	byEmail, err := st.AccountByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	require.Equal(t, acc.ID, byEmail.ID)
	require.Equal(t, models.RoleAdmin, byEmail.Role)
	require.Equal(t, models.StatusActive, byEmail.Status)
	require.Equal(t, []string{"projects:read"}, byEmail.Permissions)
	require.True(t, byEmail.LastLoginAt.IsZero())
	require.Nil(t, byEmail.RotationHistory)

	byID, err := st.AccountByID(ctx, acc.ID)
	require.NoError(t, err)
	require.WithinDuration(t, acc.CreatedAt, byID.CreatedAt, time.Second)
}

func TestIntegration_SaveAccount_DuplicateEmail_CaseInsensitive(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, st.SaveAccount(ctx, newAccount("dup@example.com")))

	err := st.SaveAccount(ctx, newAccount("DUP@example.com"))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestIntegration_NotFound(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	_, err := st.AccountByEmail(ctx, "none@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.AccountByID(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.UpdateAccount(ctx, uuid.New(), func(*models.Account) error { return nil })
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_UpdateAccount_PersistsRotationState(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	acc := newAccount("rot@example.com")
	require.NoError(t, st.SaveAccount(ctx, acc))

	rotatedAt := time.Now().UTC().Truncate(time.Second)
	_, err := st.UpdateAccount(ctx, acc.ID, func(a *models.Account) error {
		a.PushRotation(models.RotationRecord{
			TokenHash: "old",
			RotatedAt: rotatedAt,
			Client:    models.ClientMeta{UserAgent: "editor/1.0", IP: "10.0.0.1"},
		}, 5)
		a.RefreshTokenHash = "new"
		a.LastTokenRefreshAt = rotatedAt
		return nil
	})
	require.NoError(t, err)

	got, err := st.AccountByID(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.RefreshTokenHash)
	require.Len(t, got.RotationHistory, 1)
	require.Equal(t, "old", got.RotationHistory[0].TokenHash)
	require.Equal(t, "editor/1.0", got.RotationHistory[0].Client.UserAgent)
	require.True(t, rotatedAt.Equal(got.RotationHistory[0].RotatedAt))
	require.True(t, rotatedAt.Equal(got.LastTokenRefreshAt))
	require.EqualValues(t, 1, got.Version)
}

func TestIntegration_UpdateAccount_FnErrorRollsBack(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	acc := newAccount("rollback@example.com")
	acc.RefreshTokenHash = "keep"
	require.NoError(t, st.SaveAccount(ctx, acc))

	sentinel := errors.New("reject")
	_, err := st.UpdateAccount(ctx, acc.ID, func(a *models.Account) error {
		a.RefreshTokenHash = "lost"
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := st.AccountByID(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, "keep", got.RefreshTokenHash)
}

// Параллельные CAS-подобные обновления: ровно один вызов видит исходный хэш.
func TestIntegration_UpdateAccount_RowLockSerializes(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	acc := newAccount("lock@example.com")
	acc.RefreshTokenHash = "h0"
	require.NoError(t, st.SaveAccount(ctx, acc))

	errStale := errors.New("stale")
	const n = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.UpdateAccount(ctx, acc.ID, func(a *models.Account) error {
				if a.RefreshTokenHash != "h0" {
					return errStale
				}
				a.RefreshTokenHash = fmt.Sprintf("h%d", i+1)
				return nil
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			require.ErrorIs(t, err, errStale)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
}

func TestIntegration_Ctx_Canceled(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.AccountByID(ctx, uuid.New())
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func TestMigrate_ArgumentValidation(t *testing.T) {
	t.Parallel()

	require.Error(t, Migrate("", "up"))
	require.Error(t, Migrate("postgres://localhost/db", "sideways"))
}
