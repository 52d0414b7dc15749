package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/espleds-core/internal/bridge"
	"github.com/nerrad567/espleds-core/internal/controller"
	"github.com/nerrad567/espleds-core/internal/discovery"
	"github.com/nerrad567/espleds-core/internal/history"
	"github.com/nerrad567/espleds-core/internal/infrastructure/config"
	"github.com/nerrad567/espleds-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceSource answers which devices are currently registered.
// *discovery.Registry implements it.
type DeviceSource interface {
	Snapshot() []discovery.Device
	Get(address string) (discovery.Device, bool)
}

// BridgeStats exposes MQTT bridge counters for the metrics endpoint.
// *bridge.Bridge implements it.
type BridgeStats interface {
	Stats() bridge.BridgeStatistics
}

// DBStatser reports connection pool statistics. *database.DB implements it.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Devices  DeviceSource
	Manager  *controller.Manager
	History  history.Repository // optional: history endpoint returns 503 without it
	Bridge   BridgeStats        // optional
	Database DBStatser          // optional
	// ExternalHub is used instead of creating a hub. The controller manager
	// and poller need the hub before the server starts.
	ExternalHub *Hub
	Version     string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	devices   DeviceSource
	manager   *controller.Manager
	history   history.Repository
	bridge    BridgeStats
	db        DBStatser
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, device source, manager)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("controller manager is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		devices:   deps.Devices,
		manager:   deps.Manager,
		history:   deps.History,
		bridge:    deps.Bridge,
		db:        deps.Database,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.ExternalHub,
	}, nil
}

// Hub returns the server's WebSocket hub, or nil before Start when none
// was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected), builds the router,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (bounds the hub's lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
