// Package http serves the pull side of the distribution hub, the health
// endpoint, Prometheus metrics and the WebSocket push endpoint on one chi
// router.
package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/health"
	"github.com/c360/sensorstream/hub"
	"github.com/c360/sensorstream/input/broker"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pkg/tlsutil"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr            string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins []string             `json:"cors_origins" yaml:"cors_origins" mapstructure:"cors_origins"`
	TLS         tlsutil.ServerConfig `json:"tls" yaml:"tls" mapstructure:"tls"`
}

// DefaultConfig returns the HTTP defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// PushHandler is the WebSocket endpoint mounted on the router.
type PushHandler interface {
	http.Handler
	Path() string
}

// Deps are the collaborators the gateway reads from. Hub is required.
type Deps struct {
	Hub          *hub.Hub
	BrokerStatus func() broker.Status
	Health       *health.Monitor
	Push         PushHandler
	Registry     *metric.MetricsRegistry
	Logger       *slog.Logger
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Broker     broker.Status   `json:"broker"`
	Hub        hub.Stats       `json:"hub"`
	Components []health.Status `json:"components,omitempty"`
}

// Gateway is the HTTP surface.
type Gateway struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	router chi.Router
}

// New builds the router. The server is started by Serve.
func New(cfg Config, deps Deps) (*Gateway, error) {
	if deps.Hub == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "New", "check hub")
	}

	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "http"),
	}
	g.router = g.routes()
	return g, nil
}

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(g.cors)

	r.Get("/health", g.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(g.cfg.WriteTimeout))
		r.Get("/latest", g.handleLatest)
		r.Get("/latest/{deviceID}", g.handleDeviceLatest)
		r.Get("/alerts", g.handleAlerts)
	})

	if g.deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", g.deps.Registry.Handler())
	}
	if g.deps.Push != nil {
		r.Get(g.deps.Push.Path(), g.deps.Push.ServeHTTP)
	}

	return r
}

// Handler returns the router.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
// It returns nil after a clean shutdown.
func (g *Gateway) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Serve", "listen on "+g.cfg.Addr)
	}
	return g.serve(ctx, ln)
}

func (g *Gateway) serve(ctx context.Context, ln net.Listener) error {
	tlsConfig, err := tlsutil.LoadServerTLSConfig(g.cfg.TLS)
	if err != nil {
		_ = ln.Close()
		return errors.WrapFatal(err, "Gateway", "Serve", "load TLS config")
	}

	srv := &http.Server{
		Handler:     g.router,
		ReadTimeout: g.cfg.ReadTimeout,
		IdleTimeout: g.cfg.IdleTimeout,
		TLSConfig:   tlsConfig,
		ErrorLog:    slog.NewLogLogger(g.logger.Handler(), slog.LevelWarn),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "tls", tlsConfig != nil)
		if tlsConfig != nil {
			errCh <- srv.ServeTLS(ln, "", "")
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WrapTransient(err, "Gateway", "Serve", "serve HTTP")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.ShutdownTimeout)
	defer cancel()

	g.logger.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Serve", "shutdown HTTP server")
	}
	return nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Hub:       g.deps.Hub.Stats(),
	}
	if g.deps.BrokerStatus != nil {
		resp.Broker = g.deps.BrokerStatus()
	}
	if g.deps.Health != nil {
		agg := g.deps.Health.Evaluate("sensorstream")
		resp.Status = agg.Status
		resp.Message = agg.Message
		resp.Components = agg.SubStatuses
	}

	code := http.StatusOK
	if g.deps.BrokerStatus != nil && !resp.Broker.Connected {
		code = http.StatusServiceUnavailable
		if resp.Status == "healthy" {
			resp.Status = "unhealthy"
		}
	}
	g.writeJSON(w, code, resp)
}

func (g *Gateway) handleLatest(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.deps.Hub.Snapshot())
}

func (g *Gateway) handleDeviceLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	reading, ok := g.deps.Hub.Latest(deviceID)
	if !ok {
		g.writeError(w, http.StatusNotFound, "no readings for device")
		return
	}
	g.writeJSON(w, http.StatusOK, reading)
}

func (g *Gateway) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			g.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	g.writeJSON(w, http.StatusOK, g.deps.Hub.RecentAlerts(limit))
}

// cors applies the configured origins. Preflight requests end here.
func (g *Gateway) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, o := range g.cfg.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("Write response failed", "error", err)
	}
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	g.writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}
