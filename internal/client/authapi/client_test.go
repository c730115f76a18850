package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-session/internal/api"
	"github.com/pribylovaa/go-auth-session/internal/autherr"
	"github.com/pribylovaa/go-auth-session/internal/models"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return New(srv.URL+"/", Options{
		ClientID:     "editor",
		ClientSecret: "s3cret",
		Timeout:      2 * time.Second,
		HTTPClient:   srv.Client(),
		Now:          func() time.Time { return fixedNow },
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_OK(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, api.PathLogin, r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req api.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "user@example.com", req.Email)
		require.Equal(t, "editor", req.ClientID)
		require.Equal(t, "s3cret", req.ClientSecret)

		writeJSON(w, http.StatusOK, api.LoginResponse{
			AccessToken:  "a",
			RefreshToken: "r",
			ExpiresIn:    3600,
			User:         models.UserProfile{ID: "u-1", Name: "User", Role: models.RoleUser},
		})
	})

	pair, profile, err := c.Login(context.Background(), models.Credentials{Email: "user@example.com", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "a", pair.AccessToken)
	require.Equal(t, "r", pair.RefreshToken)
	require.Equal(t, fixedNow.Add(time.Hour), pair.AccessExpiresAt)
	require.Equal(t, int64(3600), pair.ExpiresIn())
	require.Equal(t, "u-1", profile.ID)
}

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		call   func(c *Client) error
		status int
		body   any
		want   autherr.Kind
	}{
		{
			name:   "login_invalid_credentials",
			call:   loginCall,
			status: http.StatusUnauthorized,
			body:   api.Error{Code: api.CodeInvalidCredentials},
			want:   autherr.KindInvalidCredentials,
		},
		{
			name:   "login_account_disabled",
			call:   loginCall,
			status: http.StatusUnauthorized,
			body:   api.Error{Code: api.CodeAccountDisabled},
			want:   autherr.KindAccountDisabled,
		},
		{
			name:   "login_invalid_client",
			call:   loginCall,
			status: http.StatusUnauthorized,
			body:   api.Error{Code: api.CodeInvalidClient},
			want:   autherr.KindRejected,
		},
		{
			name:   "refresh_expired",
			call:   refreshCall,
			status: http.StatusUnauthorized,
			body:   api.Error{Code: api.CodeTokenExpired, RequireRelogin: true},
			want:   autherr.KindInvalidRefreshToken,
		},
		{
			name:   "refresh_invalid",
			call:   refreshCall,
			status: http.StatusUnauthorized,
			body:   api.Error{Code: api.CodeInvalidRefreshToken, RequireRelogin: true},
			want:   autherr.KindInvalidRefreshToken,
		},
		{
			name:   "refresh_account_disabled",
			call:   refreshCall,
			status: http.StatusUnauthorized,
			body:   api.Error{Code: api.CodeAccountDisabled, RequireRelogin: true},
			want:   autherr.KindAccountDisabled,
		},
		{
			name:   "refresh_bad_request",
			call:   refreshCall,
			status: http.StatusBadRequest,
			body:   api.Error{Code: api.CodeInvalidArgument},
			want:   autherr.KindRejected,
		},
		{
			name:   "whoami_unauthorized",
			call:   whoamiCall,
			status: http.StatusUnauthorized,
			body:   api.Error{Code: api.CodeTokenExpired},
			want:   autherr.KindInvalidAccessToken,
		},
		{
			name:   "server_error",
			call:   refreshCall,
			status: http.StatusInternalServerError,
			body:   api.Error{Code: api.CodeInternal},
			want:   autherr.KindServer,
		},
		{
			name:   "rate_limited",
			call:   loginCall,
			status: http.StatusTooManyRequests,
			body:   api.Error{Code: "RATE_LIMITED"},
			want:   autherr.KindServer,
		},
		{
			name:   "non_api_body",
			call:   whoamiCall,
			status: http.StatusBadGateway,
			body:   "<html>bad gateway</html>",
			want:   autherr.KindServer,
		},
		{
			name:   "garbage_success_body",
			call:   refreshCall,
			status: http.StatusOK,
			body:   "not an object",
			want:   autherr.KindServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			err := tt.call(c)
			require.Error(t, err)
			require.Equal(t, tt.want, autherr.KindOf(err), err.Error())
		})
	}
}

// Ответ без тела в формате API (прокси, шлюз): 4xx остаётся окончательным
// отказом, 429 и 5xx — временным сбоем.
func TestClassification_PlainTextBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		call      func(c *Client) error
		status    int
		want      autherr.Kind
		transient bool
	}{
		{name: "refresh_unauthorized", call: refreshCall, status: http.StatusUnauthorized, want: autherr.KindInvalidRefreshToken},
		{name: "whoami_unauthorized", call: whoamiCall, status: http.StatusUnauthorized, want: autherr.KindInvalidAccessToken},
		{name: "login_forbidden", call: loginCall, status: http.StatusForbidden, want: autherr.KindRejected},
		{name: "refresh_rate_limited", call: refreshCall, status: http.StatusTooManyRequests, want: autherr.KindServer, transient: true},
		{name: "refresh_bad_gateway", call: refreshCall, status: http.StatusBadGateway, want: autherr.KindServer, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, http.StatusText(tt.status), tt.status)
			})

			err := tt.call(c)
			require.Error(t, err)
			require.Equal(t, tt.want, autherr.KindOf(err), err.Error())
			require.Equal(t, tt.transient, autherr.IsTransient(err))
		})
	}
}

// Голый 401 на обновлении завершает сессию, а не уводит её в Degraded.
func TestRefresh_PlainUnauthorizedIsTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})

	_, err := c.Refresh(context.Background(), "r-1")
	require.Equal(t, autherr.KindInvalidRefreshToken, autherr.KindOf(err))
	require.True(t, autherr.IsTerminal(err))
	require.Equal(t, autherr.ActionForceLogout, autherr.Decide(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestWhoami_SendsBearer(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, api.UserResponse{User: models.UserProfile{ID: "u-1"}})
	})

	p, err := c.Whoami(context.Background(), "access-1")
	require.NoError(t, err)
	require.Equal(t, "u-1", p.ID)
}

func TestLogout_OK(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.LogoutRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "r", req.RefreshToken)
		writeJSON(w, http.StatusOK, api.LogoutResponse{OK: true})
	})

	require.NoError(t, c.Logout(context.Background(), "r"))
}

func TestNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, Options{Timeout: time.Second})
	_, err := c.Refresh(context.Background(), "r")
	require.Equal(t, autherr.KindNetwork, autherr.KindOf(err))
}

func TestTimeoutIsNetworkFailure(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-block }))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	c := New(srv.URL, Options{Timeout: 50 * time.Millisecond, HTTPClient: srv.Client()})
	_, err := c.Whoami(context.Background(), "a")
	require.Equal(t, autherr.KindNetwork, autherr.KindOf(err))
}

func TestCallerCancelIsCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		cancel()
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	c := New(srv.URL, Options{Timeout: 5 * time.Second, HTTPClient: srv.Client()})
	_, err := c.Refresh(ctx, "r")
	require.Equal(t, autherr.KindCanceled, autherr.KindOf(err))

	_, err = c.Refresh(ctx, "r")
	require.Equal(t, autherr.KindCanceled, autherr.KindOf(err))
}

func loginCall(c *Client) error {
	_, _, err := c.Login(context.Background(), models.Credentials{Email: "e@example.com", Password: "p"})
	return err
}

func refreshCall(c *Client) error {
	_, err := c.Refresh(context.Background(), "r")
	return err
}

func whoamiCall(c *Client) error {
	_, err := c.Whoami(context.Background(), "a")
	return err
}
