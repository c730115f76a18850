// authapi — HTTP-клиент API сессий. Переводит ответы сервера и сбои
// транспорта в autherr.Error; решений по ошибкам не принимает.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pribylovaa/go-auth-session/internal/api"
	"github.com/pribylovaa/go-auth-session/internal/autherr"
	"github.com/pribylovaa/go-auth-session/internal/models"
)

// maxResponseBytes ограничивает читаемое тело ответа.
const maxResponseBytes = 1 << 20

// DefaultTimeout — таймаут одного запроса, если он не задан.
const DefaultTimeout = 15 * time.Second

// Options — параметры клиента.
type Options struct {
	ClientID     string
	ClientSecret string
	// Timeout ограничивает каждый запрос; истечение считается сетевым сбоем.
	Timeout time.Duration
	// HTTPClient по умолчанию — http.DefaultClient.
	HTTPClient *http.Client
	// Now — источник времени для вычисления срока истечения пары.
	Now func() time.Time
}

// Client — клиент эндпойнтов /auth/*.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	clientID     string
	clientSecret string
	timeout      time.Duration
	now          func() time.Time
}

func New(baseURL string, opts Options) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   opts.HTTPClient,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		timeout:      opts.Timeout,
		now:          opts.Now,
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}

	return c
}

// Login обменивает учётные данные на пару токенов и профиль.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*models.TokenPair, models.UserProfile, error) {
	const op = "authapi.Login"

	req := api.LoginRequest{
		Email:        creds.Email,
		Password:     creds.Password,
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
	}

	var resp api.LoginResponse
	if err := c.do(ctx, op, http.MethodPost, api.PathLogin, "", req, &resp, classifyLogin); err != nil {
		return nil, models.UserProfile{}, err
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.User.ID == "" {
		return nil, models.UserProfile{}, autherr.New(autherr.KindServer, op, errors.New("incomplete login response"))
	}

	return c.pair(resp.AccessToken, resp.RefreshToken, resp.ExpiresIn), resp.User, nil
}

// Refresh обменивает refresh-токен на новую пару.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "authapi.Refresh"

	req := api.RefreshRequest{
		RefreshToken: refreshToken,
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
	}

	var resp api.RefreshResponse
	if err := c.do(ctx, op, http.MethodPost, api.PathRefreshToken, "", req, &resp, classifyRefresh); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, autherr.New(autherr.KindServer, op, errors.New("incomplete refresh response"))
	}

	return c.pair(resp.AccessToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// Logout отзывает семейство refresh-токена на сервере.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	const op = "authapi.Logout"

	var resp api.LogoutResponse
	return c.do(ctx, op, http.MethodPost, api.PathLogout, "", api.LogoutRequest{RefreshToken: refreshToken}, &resp, classifyDefault)
}

// Whoami возвращает профиль владельца access-токена.
func (c *Client) Whoami(ctx context.Context, accessToken string) (models.UserProfile, error) {
	const op = "authapi.Whoami"

	var resp api.UserResponse
	if err := c.do(ctx, op, http.MethodGet, api.PathMe, accessToken, nil, &resp, classifyWhoami); err != nil {
		return models.UserProfile{}, err
	}

	if resp.User.ID == "" {
		return models.UserProfile{}, autherr.New(autherr.KindServer, op, errors.New("empty user in response"))
	}

	return resp.User, nil
}

func (c *Client) pair(access, refresh string, expiresIn int64) *models.TokenPair {
	now := c.now().UTC()

	return &models.TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		IssuedAt:        now,
		AccessExpiresAt: now.Add(time.Duration(expiresIn) * time.Second),
	}
}

// classifier переводит ответ с ошибкой в вид autherr.
type classifier func(status int, body api.Error) autherr.Kind

func (c *Client) do(ctx context.Context, op, method, path, bearer string, in, out any, classify classifier) error {
	if err := ctx.Err(); err != nil {
		return autherr.New(autherr.KindCanceled, op, err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return autherr.New(autherr.KindRejected, op, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return autherr.New(autherr.KindRejected, op, fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, op, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, op, method, path, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return autherr.New(autherr.KindServer, op, fmt.Errorf("decode %s %s response: %w", method, path, err))
		}

		return nil
	}

	clientErr := resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests

	var apiErr api.Error
	if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr != nil || apiErr.Code == "" {
		// Тело не в формате API (прокси, балансировщик). Статус 4xx всё равно
		// окончательный: голый 401 означает отказ в токене, а не сбой сервера.
		cause := fmt.Errorf("unexpected %d response from %s %s", resp.StatusCode, method, path)
		if clientErr {
			return autherr.New(classify(resp.StatusCode, apiErr), op, cause)
		}

		return autherr.New(autherr.KindServer, op, cause)
	}

	kind := autherr.KindServer
	if clientErr {
		kind = classify(resp.StatusCode, apiErr)
	}

	return autherr.WithCode(kind, apiErr.Code, op,
		fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, apiErr.Message))
}

// transportError различает отмену вызывающим и сетевой сбой (включая
// истечение таймаута запроса).
func transportError(ctx context.Context, op, method, path string, err error) error {
	if ctx.Err() != nil {
		return autherr.New(autherr.KindCanceled, op, ctx.Err())
	}

	return autherr.New(autherr.KindNetwork, op, fmt.Errorf("%s %s: %w", method, path, err))
}

func classifyDefault(_ int, body api.Error) autherr.Kind {
	switch body.Code {
	case api.CodeInvalidCredentials:
		return autherr.KindInvalidCredentials
	case api.CodeAccountDisabled:
		return autherr.KindAccountDisabled
	}

	return autherr.KindRejected
}

func classifyLogin(status int, body api.Error) autherr.Kind {
	return classifyDefault(status, body)
}

// classifyRefresh: любой отказ по токену, а также флаг requireRelogin,
// означает, что refresh-токен больше не годится.
func classifyRefresh(status int, body api.Error) autherr.Kind {
	switch body.Code {
	case api.CodeAccountDisabled:
		return autherr.KindAccountDisabled
	case api.CodeTokenExpired, api.CodeInvalidToken, api.CodeInvalidRefreshToken:
		return autherr.KindInvalidRefreshToken
	}

	if body.RequireRelogin || status == http.StatusUnauthorized {
		return autherr.KindInvalidRefreshToken
	}

	return autherr.KindRejected
}

func classifyWhoami(status int, body api.Error) autherr.Kind {
	if body.Code == api.CodeAccountDisabled {
		return autherr.KindAccountDisabled
	}

	if status == http.StatusUnauthorized {
		return autherr.KindInvalidAccessToken
	}

	return autherr.KindRejected
}
