// api — JSON-контракт HTTP API сессий. Общий для сервера
// (internal/transport/http) и клиента (internal/client/authapi).
package api

import "github.com/pribylovaa/go-auth-session/internal/models"

// Пути эндпойнтов.
const (
	PathLogin        = "/auth/login"
	PathRefreshToken = "/auth/refresh-token"
	PathLogout       = "/auth/logout"
	PathRegister     = "/auth/register"
	PathMe           = "/auth/users/me"
	PathUserStatus   = "/auth/users/{id}/status"
)

// Коды ошибок в теле ответа.
const (
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeAccountDisabled     = "ACCOUNT_DISABLED"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeInvalidClient       = "INVALID_CLIENT"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeEmailTaken          = "EMAIL_TAKEN"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeCanceled            = "CANCELED"
	CodeInternal            = "INTERNAL"
)

// HeaderRequestID — заголовок корреляции запросов.
const HeaderRequestID = "X-Request-Id"

type LoginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

type LoginResponse struct {
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresIn    int64              `json:"expiresIn"`
	User         models.UserProfile `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutResponse struct {
	OK bool `json:"ok"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

type UserResponse struct {
	User models.UserProfile `json:"user"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Error — тело ответа об ошибке.
// RequireRelogin сообщает клиенту, что сессию не восстановить без нового входа.
type Error struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	RequireRelogin bool   `json:"requireRelogin,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
}

// LoginFromPair собирает ответ на вход.
func LoginFromPair(p *models.TokenPair, profile models.UserProfile) LoginResponse {
	return LoginResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn(),
		User:         profile,
	}
}

// RefreshFromPair собирает ответ на обновление.
func RefreshFromPair(p *models.TokenPair) RefreshResponse {
	return RefreshResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn(),
	}
}
