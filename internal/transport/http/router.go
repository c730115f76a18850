package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-auth-session/internal/api"
	"github.com/pribylovaa/go-auth-session/internal/metrics"
	"github.com/pribylovaa/go-auth-session/internal/transport/http/handlers"
	"github.com/pribylovaa/go-auth-session/internal/transport/http/middleware"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc handlers.Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.RequestID(),                        // X-Request-Id до логирования
		middleware.Logging(opts.Logger, opts.Metrics), // request-scoped логгер, запись и метрика на запрос
		middleware.Recover(),                          // паника -> 500 с записью в лог запроса
		middleware.AuthBearer(),                       // Bearer-токен в контекст
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout))
	}

	h := handlers.New(svc)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers) {
	r.Post(api.PathLogin, h.Login)
	r.Post(api.PathRefreshToken, h.RefreshToken)
	r.Post(api.PathLogout, h.Logout)
	r.Post(api.PathRegister, h.Register)

	r.Get(api.PathMe, h.Me)
	r.Patch(api.PathUserStatus, h.SetStatus)
}
