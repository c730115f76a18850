package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-session/internal/api"
	"github.com/pribylovaa/go-auth-session/internal/issuer"
)

func TestToHTTP_Mapping(t *testing.T) {
	tcs := []struct {
		name       string
		in         error
		wantStatus int
		wantCode   string
		relogin    bool
	}{
		{"invalid_credentials", issuer.ErrInvalidCredentials, http.StatusUnauthorized, api.CodeInvalidCredentials, false},
		{"account_disabled", issuer.ErrAccountDisabled, http.StatusUnauthorized, api.CodeAccountDisabled, true},
		{"refresh_expired", issuer.ErrRefreshTokenExpired, http.StatusUnauthorized, api.CodeTokenExpired, true},
		{"refresh_malformed", issuer.ErrRefreshTokenMalformed, http.StatusUnauthorized, api.CodeInvalidToken, true},
		{"refresh_invalid", issuer.ErrInvalidRefreshToken, http.StatusUnauthorized, api.CodeInvalidRefreshToken, true},
		{"access_expired", issuer.ErrTokenExpired, http.StatusUnauthorized, api.CodeTokenExpired, false},
		{"access_invalid", issuer.ErrInvalidToken, http.StatusUnauthorized, api.CodeInvalidToken, false},
		{"invalid_client", issuer.ErrInvalidClient, http.StatusUnauthorized, api.CodeInvalidClient, false},
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized, api.CodeUnauthenticated, false},
		{"weak_password", issuer.ErrWeakPassword, http.StatusBadRequest, api.CodeInvalidArgument, false},
		{"bad_body", ErrInvalidArgument, http.StatusBadRequest, api.CodeInvalidArgument, false},
		{"email_taken", issuer.ErrEmailTaken, http.StatusConflict, api.CodeEmailTaken, false},
		{"not_found", issuer.ErrAccountNotFound, http.StatusNotFound, api.CodeNotFound, false},
		{"forbidden", ErrForbidden, http.StatusForbidden, api.CodeForbidden, false},
		{"canceled", context.Canceled, StatusClientClosedRequest, api.CodeCanceled, false},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, api.CodeInternal, false},
		{"internal", fmt.Errorf("db: %w", fmt.Errorf("connection refused")), http.StatusInternalServerError, api.CodeInternal, false},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			// Обёртка как у issuer: op-префикс не должен ломать маппинг.
			gotStatus, resp := ToHTTP(fmt.Errorf("issuer.op: %w", tc.in))
			require.Equal(t, tc.wantStatus, gotStatus)
			require.Equal(t, tc.wantCode, resp.Code)
			require.Equal(t, tc.relogin, resp.RequireRelogin)
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestToHTTP_NilError_Returns500Internal(t *testing.T) {
	gotStatus, resp := ToHTTP(nil)
	require.Equal(t, http.StatusInternalServerError, gotStatus)
	require.Equal(t, api.CodeInternal, resp.Code)
	require.Equal(t, "internal error", resp.Message)
}

func TestToHTTP_InternalDetailsNotLeaked(t *testing.T) {
	_, resp := ToHTTP(fmt.Errorf("pgx: password authentication failed for user postgres"))
	require.NotContains(t, resp.Message, "postgres")
}

func TestWriteError_RequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set(api.HeaderRequestID, "rid-42")
	rec := httptest.NewRecorder()

	WriteError(rec, req, issuer.ErrInvalidCredentials)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body api.Error
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, api.CodeInvalidCredentials, body.Code)
	require.Equal(t, "rid-42", body.RequestID)
}
