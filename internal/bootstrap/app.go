package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apphttp "gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/http"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/middleware"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/safego"
)

// NOTE: The App struct and NewApp function are defined in providers.go for Wire.
// This file should only contain methods for the App struct, like Run().

func (a *App) chain(h http.Handler) http.Handler {
	return middleware.RequestIDMiddleware(middleware.SessionIDMiddleware(h))
}

// Run starts the application, listens for HTTP requests, and handles graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	version := "unknown"
	serviceName := "eam-gateway-service"
	if a.configProvider != nil && a.configProvider.Get() != nil {
		configApp := a.configProvider.Get().App
		if configApp.Version != "" {
			version = configApp.Version
		}
		if configApp.ServiceName != "" {
			serviceName = configApp.ServiceName
		}
	}
	a.logger.Info(ctx, "Starting application", "service_name", serviceName, "version", version)

	// A credential persisted by a previous run can carry the session across
	// restarts without a new login.
	a.sessions.RestorePersistedCredential(ctx)

	healthHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"OK"}`)
	})
	a.httpServeMux.Handle("GET /health", middleware.RequestIDMiddleware(healthHandler))

	readyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		ready := true
		dependenciesStatus := make(map[string]string)

		// The persistent cache tier must be usable (writable dir or reachable Redis).
		if err := a.persistentTier.Ping(r.Context()); err == nil {
			dependenciesStatus["persistent_cache"] = "available"
		} else {
			dependenciesStatus["persistent_cache"] = "unavailable"
			ready = false
			a.logger.Warn(r.Context(), "Readiness check failed: persistent cache tier unavailable", "error", err.Error())
		}

		// The remote endpoint must be configured; reachability is not probed
		// here to keep readiness cheap and side-effect free.
		if a.configProvider.Get().Remote.BaseURL != "" {
			dependenciesStatus["remote"] = "configured"
		} else {
			dependenciesStatus["remote"] = "not_configured"
			ready = false
			a.logger.Warn(r.Context(), "Readiness check failed: remote base URL not configured")
		}

		response := struct {
			Status       string            `json:"status"`
			Dependencies map[string]string `json:"dependencies"`
		}{
			Dependencies: dependenciesStatus,
		}

		if ready {
			response.Status = "READY"
			w.WriteHeader(http.StatusOK)
		} else {
			response.Status = "NOT_READY"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			a.logger.Error(r.Context(), "Failed to encode readiness response", "error", err)
		}
	})
	a.httpServeMux.Handle("GET /ready", middleware.RequestIDMiddleware(readyHandler))

	// Register Prometheus metrics handler
	a.httpServeMux.Handle("GET /metrics", middleware.RequestIDMiddleware(promhttp.Handler()))

	a.httpServeMux.Handle("POST /auth/login", a.chain(apphttp.StartLoginHandler(a.coordinator, a.logger)))
	a.httpServeMux.Handle("GET /auth/status", a.chain(apphttp.AuthStatusHandler(a.coordinator, a.logger)))
	a.httpServeMux.Handle("POST /auth/logout", a.chain(apphttp.LogoutHandler(a.sessions, a.logger)))
	a.httpServeMux.Handle("GET /profile", a.chain(apphttp.ProfileHandler(a.queryService, a.logger)))
	a.httpServeMux.Handle("GET /sites", a.chain(apphttp.SitesHandler(a.queryService, a.logger)))
	a.httpServeMux.Handle("GET /workorders", a.chain(apphttp.WorkOrdersHandler(a.workOrders, a.logger)))
	a.logger.Info(ctx, "HTTP routes registered")

	safego.Execute(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}

		shutdownTimeout := 30 * time.Second // Default
		if a.configProvider != nil && a.configProvider.Get() != nil {
			configApp := a.configProvider.Get().App
			if configApp.ShutdownTimeoutSeconds > 0 {
				shutdownTimeout = time.Duration(configApp.ShutdownTimeoutSeconds) * time.Second
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop the proactive refresh timer before tearing down the server.
		a.sessions.Stop()

		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "HTTP server graceful shutdown failed", "error", err.Error())
		}
		a.logger.Info(context.Background(), "HTTP server shut down.")
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", a.configProvider.Get().Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}
