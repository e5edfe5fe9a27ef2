// Package api provides the HTTP REST API and WebSocket server for bedlink.
//
// It exposes bed management, command and movement operations, discovery
// scans, and real-time session events to user interfaces (mobile apps,
// bedside panels, home-automation frontends).
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
	"time"

	"github.com/nerrad567/bedlink/internal/audit"
	"github.com/nerrad567/bedlink/internal/bed"
	"github.com/nerrad567/bedlink/internal/ble"
	"github.com/nerrad567/bedlink/internal/infrastructure/config"
	"github.com/nerrad567/bedlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/bedlink/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Scanner discovers nearby bed controllers. Implemented by the ble
// transport; nil disables the scan endpoint.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration, namePatterns []string) ([]ble.Candidate, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Bluetooth config.BluetoothConfig
	Logger    *logging.Logger
	Registry  *bed.Registry
	BedRepo   bed.Repository
	AuditRepo audit.Repository
	Recorder  *audit.Recorder  // optional: command audit trail
	Scanner   Scanner          // optional: discovery endpoint
	Metrics   *influxdb.Client // optional: command latency metrics
	Version   string
}

// Server is the HTTP API server for bedlink.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	btCfg     config.BluetoothConfig
	logger    *logging.Logger
	registry  *bed.Registry
	bedRepo   bed.Repository
	auditRepo audit.Repository
	recorder  *audit.Recorder
	scanner   Scanner
	metrics   *influxdb.Client
	version   string

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, repositories)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("bed registry is required")
	}
	if deps.BedRepo == nil {
		return nil, fmt.Errorf("bed repository is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		btCfg:     deps.Bluetooth,
		logger:    deps.Logger,
		registry:  deps.Registry,
		bedRepo:   deps.BedRepo,
		auditRepo: deps.AuditRepo,
		recorder:  deps.Recorder,
		scanner:   deps.Scanner,
		metrics:   deps.Metrics,
		version:   deps.Version,
		tickets:   newTicketStore(),
	}, nil
}

// Hub returns the WebSocket hub, creating it on first call. Exposed so
// the registry's event handler can be wired before Start().
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, builds the router,
// and launches the HTTP listener in a background goroutine. The server
// is stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.Hub().Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

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
			s.logger.Info("API server starting", "address", s.server.Addr)
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
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

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
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
