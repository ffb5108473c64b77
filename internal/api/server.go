// Package api provides the HTTP API and WebSocket status stream for the
// doorbell relay.
//
// It exposes the visitor-facing bootstrap and ring endpoints, the
// admin-gated override and audit endpoints, and operational health and
// metrics endpoints.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/larlab/bellcore/internal/audit"
	"github.com/larlab/bellcore/internal/guard"
	"github.com/larlab/bellcore/internal/infrastructure/config"
	"github.com/larlab/bellcore/internal/infrastructure/database"
	"github.com/larlab/bellcore/internal/infrastructure/influxdb"
	"github.com/larlab/bellcore/internal/infrastructure/logging"
	"github.com/larlab/bellcore/internal/infrastructure/mqtt"
	"github.com/larlab/bellcore/internal/lab"
	"github.com/larlab/bellcore/internal/override"
	"github.com/larlab/bellcore/internal/presence"
	"github.com/larlab/bellcore/internal/ring"
	"github.com/larlab/bellcore/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// statusWatchInterval is how often the server re-evaluates each lab's
// effective status for the WebSocket stream. One second keeps the UI
// responsive without measurable load at lab-registry scale.
const statusWatchInterval = time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config          config.APIConfig
	Security        config.SecurityConfig
	Logger          *logging.Logger
	Registry        *lab.Registry
	Presence        *presence.Tracker
	Overrides       *override.Store
	Sessions        *session.Manager
	RateLimiter     *guard.RateLimiter
	Cooldown        *guard.Cooldown
	Dispatcher      *ring.Dispatcher
	MQTT            *mqtt.Client     // optional: metrics/health only
	DB              *database.DB     // optional: metrics only
	Audit           audit.Repository // optional: audit trail disabled when nil
	Telemetry       *influxdb.Client // optional: telemetry disabled when nil
	OnlineThreshold time.Duration
	Version         string
}

// Server is the HTTP API server for the doorbell relay.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket
// status hub. The server is created with New() and started with Start().
type Server struct {
	cfg             config.APIConfig
	secCfg          config.SecurityConfig
	logger          *logging.Logger
	registry        *lab.Registry
	presence        *presence.Tracker
	overrides       *override.Store
	sessions        *session.Manager
	rateLimiter     *guard.RateLimiter
	cooldown        *guard.Cooldown
	dispatcher      *ring.Dispatcher
	mqtt            *mqtt.Client
	db              *database.DB
	audit           audit.Repository
	telemetry       *influxdb.Client
	onlineThreshold time.Duration
	version         string

	server    *http.Server
	hub       *Hub
	startTime time.Time
	cancel    context.CancelFunc // cancels background goroutines on Close()

	// statusCache holds the last broadcast effective status per lab so
	// the watch loop and override handlers only emit transitions.
	statusMu    sync.Mutex
	statusCache map[lab.ID]labStatusState
}

// labStatusState is one lab's last broadcast status.
type labStatusState struct {
	online     bool
	overridden bool
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("lab registry is required")
	}
	if deps.Presence == nil {
		return nil, fmt.Errorf("presence tracker is required")
	}
	if deps.Overrides == nil {
		return nil, fmt.Errorf("override store is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.RateLimiter == nil || deps.Cooldown == nil {
		return nil, fmt.Errorf("abuse guards are required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("ring dispatcher is required")
	}

	return &Server{
		cfg:             deps.Config,
		secCfg:          deps.Security,
		logger:          deps.Logger,
		registry:        deps.Registry,
		presence:        deps.Presence,
		overrides:       deps.Overrides,
		sessions:        deps.Sessions,
		rateLimiter:     deps.RateLimiter,
		cooldown:        deps.Cooldown,
		dispatcher:      deps.Dispatcher,
		mqtt:            deps.MQTT,
		db:              deps.DB,
		audit:           deps.Audit,
		telemetry:       deps.Telemetry,
		onlineThreshold: deps.OnlineThreshold,
		version:         deps.Version,
		statusCache:     make(map[lab.ID]labStatusState),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, the session sweep loop, the status watch
// loop, and launches the HTTP listener in a background goroutine. The
// server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.startTime = time.Now()

	s.hub = NewHub(s.logger)
	go s.hub.Run(srvCtx)

	// Evict abandoned session tokens so the table doesn't grow unbounded.
	go s.sessions.SweepLoop(srvCtx)

	// Broadcast lab status transitions to WebSocket clients.
	go s.statusWatchLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, sweep, status watcher)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// effectiveOnline computes a lab's effective availability at now:
// a manual override always wins; otherwise automatic presence decides.
func (s *Server) effectiveOnline(id lab.ID, now time.Time) (online bool, overridden bool, value override.Status) {
	if status, ok := s.overrides.Get(id); ok {
		return status == override.StatusOnline, true, status
	}
	return s.presence.IsAutoOnline(id, now, s.onlineThreshold), false, ""
}

// recordAudit writes an audit entry on a best-effort basis. Audit
// failures are logged and never change the handler's response.
func (s *Server) recordAudit(action string, labID lab.ID, clientAddr, outcome string, detail map[string]any) {
	if s.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		LabID:      string(labID),
		ClientAddr: clientAddr,
		Outcome:    outcome,
		Detail:     detail,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", "action", action, "error", err)
	}
}
