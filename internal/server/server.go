// Package server provides HTTP server initialization and lifecycle management
// for the Cadence API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/config"
	"github.com/scrypster/cadence/web/handlers"
)

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Engine handlers.Engine

	// Hub serves /ws/insights. Start runs it and stops it on shutdown.
	Hub *handlers.InsightHub

	// Gatherer backs /metrics; nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Logger logrus.FieldLogger
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// NewHandler assembles the routes and middleware without listening.
func NewHandler(cfg *config.Config, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	rps, burst := cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst
	if rps <= 0 || burst < 1 {
		rps, burst = 10, 20
	}
	rateLimiter := handlers.NewRateLimiter(rps, burst)

	api := handlers.NewAPIHandlers(deps.Engine, logger)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	api.Register(apiMux)

	mux := http.NewServeMux()
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// Health and metrics are unauthenticated for health checks and scrapers.
	mux.HandleFunc("GET /health", api.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// WebSocket endpoint (origin validation instead of bearer auth, browsers
	// cannot set headers on upgrade requests)
	if deps.Hub != nil {
		mux.Handle("GET /ws/insights", deps.Hub)
	}

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	return securityHeadersMiddleware(handler)
}

// Start initializes and starts the HTTP server. It returns the address being
// listened on (useful for testing with port 0). The server shuts down
// gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if deps.Hub != nil {
		go deps.Hub.Run()
	}

	// Create server with security timeouts
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if deps.Hub != nil {
			deps.Hub.Stop()
		}
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()
	logger.WithField("addr", actualAddr).Info("http server listening")

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server error")
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http server shutdown error")
		}
		if deps.Hub != nil {
			deps.Hub.Stop()
		}
	}()

	return actualAddr, nil
}
