package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/storage"
)

// testTimeout — общий дедлайн на операции с БД в тестах.
const testTimeout = 10 * time.Second

// TestMain запускает MongoDB в контейнере один раз на пакет.
// Каждый тест получает свою базу с уникальным именем (см. newStorage).
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
	}

	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo testcontainer: %v\n", err)
		os.Exit(1)
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}

	_ = os.Setenv("DATABASE_URL", fmt.Sprintf("mongodb://%s:%s", host, port.Port()))

	code := m.Run()

	_ = mongoC.Terminate(context.Background())
	os.Exit(code)
}

// newStorage подключается к отдельной тестовой БД.
func newStorage(t *testing.T) *Storage {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	base := strings.TrimSuffix(os.Getenv("DATABASE_URL"), "/")
	uri := base + "/auth_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	st, err := New(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	return st
}

func newAccount(email string) *models.Account {
	now := time.Now().UTC()
	return &models.Account{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Mongo",
		PasswordHash: "hash",
		Role:         models.RoleUser,
		Status:       models.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestIntegration_SaveAndLookup(t *testing.T) {
	st := newStorage(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	acc := newAccount("Mixed@Case.io")
	require.NoError(t, st.SaveAccount(ctx, acc))

	got, err := st.AccountByEmail(ctx, "mixed@case.io")
	require.NoError(t, err)
	require.Equal(t, acc.ID, got.ID)
	require.Equal(t, "Mixed@Case.io", got.Email)
	require.Empty(t, got.Permissions)
	require.True(t, got.LastLoginAt.IsZero())

	_, err = st.AccountByID(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_SaveAccount_Duplicate(t *testing.T) {
	st := newStorage(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, st.SaveAccount(ctx, newAccount("dup@x.io")))
	require.ErrorIs(t, st.SaveAccount(ctx, newAccount("DUP@x.io")), storage.ErrAlreadyExists)
}

func TestIntegration_UpdateAccount_History(t *testing.T) {
	st := newStorage(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	acc := newAccount("hist@x.io")
	require.NoError(t, st.SaveAccount(ctx, acc))

	at := time.Now().UTC().Truncate(time.Millisecond)
	updated, err := st.UpdateAccount(ctx, acc.ID, func(a *models.Account) error {
		a.PushRotation(models.RotationRecord{TokenHash: "old", RotatedAt: at, Client: models.ClientMeta{IP: "1.2.3.4"}}, 5)
		a.RefreshTokenHash = "new"
		a.LastLoginAt = at
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, updated.Version)

	got, err := st.AccountByID(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.RefreshTokenHash)
	require.Len(t, got.RotationHistory, 1)
	require.Equal(t, "1.2.3.4", got.RotationHistory[0].Client.IP)
	require.True(t, at.Equal(got.RotationHistory[0].RotatedAt))
	require.True(t, at.Equal(got.LastLoginAt))
}

// Конкурирующие обновления: CAS по version допускает ровно одного победителя.
func TestIntegration_UpdateAccount_VersionCAS(t *testing.T) {
	st := newStorage(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	acc := newAccount("cas@x.io")
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

func TestDatabaseFromURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "auth", databaseFromURI("mongodb://localhost:27017"))
	require.Equal(t, "sessions", databaseFromURI("mongodb://localhost:27017/sessions"))
}
