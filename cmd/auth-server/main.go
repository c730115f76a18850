package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/pribylovaa/go-auth-session/internal/config"
	"github.com/pribylovaa/go-auth-session/internal/issuer"
	"github.com/pribylovaa/go-auth-session/internal/metrics"
	"github.com/pribylovaa/go-auth-session/internal/pkg/log"
	"github.com/pribylovaa/go-auth-session/internal/storage"
	"github.com/pribylovaa/go-auth-session/internal/storage/memory"
	"github.com/pribylovaa/go-auth-session/internal/storage/mongo"
	"github.com/pribylovaa/go-auth-session/internal/storage/postgres"
	authhttp "github.com/pribylovaa/go-auth-session/internal/transport/http"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	logger := log.New(cfg.Env, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting application", "env", cfg.Env, "db_driver", cfg.DB.Driver)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// Подключение к хранилищу с таймаутом.
	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	str, err := openStorage(dbCtx, cfg.DB)
	dbCancel()
	if err != nil {
		logger.Error("storage_connect_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer str.Close()
	logger.Info("storage_connected", slog.String("driver", cfg.DB.Driver))

	m := metrics.New(prometheus.DefaultRegisterer)
	iss := issuer.New(str, cfg.Auth, issuer.WithMetrics(m))
	logger.Info("issuer_initialized")

	var ready atomic.Bool

	// Служебный HTTP: пробы и метрики.
	opsMux := http.NewServeMux()
	opsMux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	opsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := str.Ping(ctx); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	opsMux.Handle("/metrics", promhttp.Handler())

	opsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr(),
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	apiSrv := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: authhttp.NewRouter(iss, authhttp.Options{
			Logger:  logger,
			Metrics: m,
			Timeout: cfg.Timeouts.Service,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("ops_listen_start", slog.String("addr", opsSrv.Addr))
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops_serve_failed", slog.String("err", err.Error()))
		}
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("http_listen_start", slog.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	ready.Store(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	ready.Store(false)

	// Graceful shutdown с таймаутом.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_force_stop", slog.String("err", err.Error()))
		_ = apiSrv.Close()
	}
	_ = opsSrv.Shutdown(shutdownCtx)

	logger.Info("service_stopped")
}

// openStorage выбирает хранилище по cfg.Driver.
func openStorage(ctx context.Context, cfg config.DBConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL)
	case "mongo":
		return mongo.New(ctx, cfg.DatabaseURL)
	case "memory":
		return memory.New(), nil
	}

	return nil, fmt.Errorf("unknown db driver %q (want postgres, mongo or memory)", cfg.Driver)
}
