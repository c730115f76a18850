package session_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-auth-session/internal/autherr"
	"github.com/pribylovaa/go-auth-session/internal/client/authapi"
	"github.com/pribylovaa/go-auth-session/internal/client/session"
	"github.com/pribylovaa/go-auth-session/internal/client/tokenstore"
	"github.com/pribylovaa/go-auth-session/internal/config"
	"github.com/pribylovaa/go-auth-session/internal/issuer"
	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/storage/memory"
	authhttp "github.com/pribylovaa/go-auth-session/internal/transport/http"
)

const password = "Abcdef1!"

// Полный контур: клиент сессии → authapi → HTTP → issuer → память.
func TestLoginAgainstIssuer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := memory.New()
	iss := issuer.New(st, config.AuthConfig{
		JWTSecret:       "e2e-secret",
		RefreshSecret:   "e2e-refresh-secret",
		AccessTokenTTL:  72 * time.Hour,
		RefreshTokenTTL: 720 * time.Hour,
		Issuer:          "auth-session",
		Audience:        []string{"portal"},
		ClockTolerance:  30 * time.Second,
		GracePeriod:     24 * time.Hour,
		ReuseWindow:     time.Minute,
		RotationHistory: 5,
		BcryptCost:      bcrypt.MinCost,
		ClientID:        "editor",
		ClientSecret:    "s3cret",
	})

	acc, err := iss.Register(ctx, "user@example.com", "User", password)
	require.NoError(t, err)

	srv := httptest.NewServer(authhttp.NewRouter(iss, authhttp.Options{Logger: discard, Timeout: 5 * time.Second}))
	t.Cleanup(srv.Close)

	api := authapi.New(srv.URL, authapi.Options{
		ClientID:     "editor",
		ClientSecret: "s3cret",
		Timeout:      10 * time.Second,
		HTTPClient:   srv.Client(),
	})
	store := tokenstore.New(tokenstore.NewMemoryKV(), "e2e")

	c := session.New(api, store, config.ClientConfig{MaxRetries: 1, RetryBaseDelay: time.Millisecond}, session.Options{Logger: discard})
	t.Cleanup(c.Close)

	err = c.Login(ctx, "user@example.com", "Wrong1!xx")
	require.Equal(t, autherr.KindInvalidCredentials, autherr.KindOf(err))
	require.Equal(t, session.PhaseGuest, c.Phase())

	started := time.Now()
	require.NoError(t, c.Login(ctx, "user@example.com", password))
	require.Equal(t, session.PhaseAuthenticated, c.Phase())

	state := c.State()
	require.True(t, state.IsAuthenticated)
	require.Equal(t, acc.ID.String(), state.UserID)
	require.Equal(t, models.RoleUser, state.Role)
	require.WithinDuration(t, started.Add(72*time.Hour), state.ExpiresAt, time.Minute)

	header, ok := c.AuthHeader(ctx)
	require.True(t, ok)

	me, err := api.Whoami(ctx, header[len("Bearer "):])
	require.NoError(t, err)
	require.Equal(t, acc.ID.String(), me.ID)

	before, err := store.Session(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Refresh(ctx))
	after, err := store.Session(ctx)
	require.NoError(t, err)
	require.NotEqual(t, before.RefreshToken, after.RefreshToken)

	require.NoError(t, c.Logout(ctx))
	c.Close()

	// Фоновый отзыв выполнен до возврата Close: семейство токенов недействительно.
	_, err = api.Refresh(ctx, after.RefreshToken)
	require.Equal(t, autherr.KindInvalidRefreshToken, autherr.KindOf(err))
}

// Приостановка аккаунта администратором завершает сессию при следующем обновлении.
func TestSuspendedAccountEndsSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	iss := issuer.New(memory.New(), config.AuthConfig{
		JWTSecret:       "e2e-secret",
		RefreshSecret:   "e2e-refresh-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "auth-session",
		Audience:        []string{"portal"},
		RotationHistory: 5,
		BcryptCost:      bcrypt.MinCost,
	})

	acc, err := iss.Register(ctx, "user@example.com", "", password)
	require.NoError(t, err)

	srv := httptest.NewServer(authhttp.NewRouter(iss, authhttp.Options{Logger: discard}))
	t.Cleanup(srv.Close)

	api := authapi.New(srv.URL, authapi.Options{HTTPClient: srv.Client()})
	c := session.New(api, tokenstore.New(tokenstore.NewMemoryKV(), ""), config.ClientConfig{}, session.Options{Logger: discard})
	t.Cleanup(c.Close)

	ended := make(chan error, 1)
	c.OnSessionEnded(func(err error) { ended <- err })

	require.NoError(t, c.Login(ctx, "user@example.com", password))

	_, err = iss.SetAccountStatus(ctx, acc.ID, models.StatusSuspended)
	require.NoError(t, err)

	err = c.Refresh(ctx)
	require.True(t, autherr.IsTerminal(err))
	require.Equal(t, session.PhaseGuest, c.Phase())

	select {
	case cause := <-ended:
		require.True(t, autherr.IsTerminal(cause))
	default:
		t.Fatal("session end was not reported")
	}
}
