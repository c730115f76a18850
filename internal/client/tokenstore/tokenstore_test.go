package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-session/internal/models"
)

func samplePair() *models.TokenPair {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.TokenPair{
		AccessToken:     "access-1",
		RefreshToken:    "refresh-1",
		IssuedAt:        now,
		AccessExpiresAt: now.Add(72 * time.Hour),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(NewMemoryKV(), "work")

	_, err := s.Session(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	p, err := s.Profile(ctx)
	require.NoError(t, err)
	require.Nil(t, p)

	pair := samplePair()
	require.NoError(t, s.SaveTokens(ctx, pair))
	require.NoError(t, s.SaveProfile(ctx, models.UserProfile{ID: "u-1", Name: "User", Role: models.RoleAdmin, Permissions: []string{"read"}}))

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", sess.AccessToken)
	require.Equal(t, "refresh-1", sess.RefreshToken)
	require.Equal(t, pair.AccessExpiresAt, sess.ExpiresAt)

	p, err = s.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "u-1", p.ID)
	require.Equal(t, models.RoleAdmin, p.Role)
	require.Equal(t, []string{"read"}, p.Permissions)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))

	_, err = s.Session(ctx)
	require.ErrorIs(t, err, ErrNoSession)
	p, err = s.Profile(ctx)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestStore_ScopesAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV()
	a := New(kv, "a")
	b := New(kv, "")

	require.NoError(t, a.SaveTokens(ctx, samplePair()))

	_, err := b.Session(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	v, err := kv.Get(ctx, "a/"+KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "access-1", v)
}

func TestStore_CorruptedValuesTolerated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv, "x")

	require.NoError(t, kv.Set(ctx, "x/"+KeyAccessToken, "a"))
	require.NoError(t, kv.Set(ctx, "x/"+KeyExpiresAt, "not-a-number"))
	require.NoError(t, kv.Set(ctx, "x/"+KeyCachedProfile, "{broken"))

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	require.True(t, sess.ExpiresAt.IsZero())

	p, err := s.Profile(ctx)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestMemoryKV_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	kv := NewMemoryKV()
	require.ErrorIs(t, kv.Set(ctx, "k", "v"), context.Canceled)
	_, err := kv.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileKV_PersistsEncrypted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.age")
	keyPath := filepath.Join(dir, "keys", "session.key")

	kv, err := OpenFileKV(path, keyPath)
	require.NoError(t, err)

	s := New(kv, "default")
	require.NoError(t, s.SaveTokens(ctx, samplePair()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "refresh-1")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Повторное открытие с тем же ключом читает данные.
	reopened, err := OpenFileKV(path, keyPath)
	require.NoError(t, err)

	sess, err := New(reopened, "default").Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "refresh-1", sess.RefreshToken)

	require.NoError(t, reopened.Delete(ctx, "default/"+KeyRefreshToken))
	_, err = reopened.Get(ctx, "default/"+KeyRefreshToken)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileKV_WrongKeyFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "session.age")

	kv, err := OpenFileKV(path, filepath.Join(dir, "one.key"))
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), "k", "v"))

	_, err = OpenFileKV(path, filepath.Join(dir, "other.key"))
	require.Error(t, err)
}
