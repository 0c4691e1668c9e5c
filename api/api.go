// Package api exposes the entity service over HTTP.
//
// Routes:
//
//	GET  /api/v1/machines
//	GET  /api/v1/machines/{key}
//	GET  /api/v1/entities/{type}
//	POST /api/v1/entities/{type}
//	GET  /api/v1/entities/{type}/{id}
//	POST /api/v1/entities/{type}/{id}/transitions
//	GET  /api/v1/entities/{type}/{id}/history
//	GET  /health
//	GET  /metrics
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"entitycore/config"
	"entitycore/core"
	"entitycore/service"
	"entitycore/storage"
	"entitycore/util/goroutine"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// EntityService is the write and read path the handlers call,
// implemented by service.EntityServiceImpl
type EntityService interface {
	Create(ctx context.Context, req service.CreateEntityRequest) (*storage.Entity, error)
	Transition(ctx context.Context, req service.TransitionRequest) (*service.TransitionResult, error)
	Get(ctx context.Context, entityType, id string) (*storage.Entity, error)
	List(ctx context.Context, entityType string) ([]*storage.Entity, error)
	History(ctx context.Context, id string) ([]storage.TransitionRecord, error)
	EntityTypes() []string
}

// MachineDescriber lists lifecycle machines, implemented by core.TransitionEngine
type MachineDescriber interface {
	Keys() []string
	Describe(key string) (core.MachineDefinition, error)
}

// BreakerStater reports the cache eviction circuit state for /health
type BreakerStater interface {
	State() core.CircuitBreakerState
}

const (
	maxRequestBodySize     = 1 << 20
	rateLimiterIdleTimeout = time.Hour
)

// API holds the API server
type API struct {
	router   *mux.Router
	serverMu sync.Mutex
	server   *http.Server
	entities EntityService
	machines MachineDescriber
	breaker  BreakerStater
	config   *config.Config
	logger   *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates a new API server. breaker may be nil.
func NewAPI(entities EntityService, machines MachineDescriber, breaker BreakerStater, cfg *config.Config, logger *zap.SugaredLogger) *API {
	if entities == nil {
		panic("entities is required")
	}
	if machines == nil {
		panic("machines is required")
	}
	if cfg == nil {
		panic("config is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	a := &API{
		router:       mux.NewRouter(),
		entities:     entities,
		machines:     machines,
		breaker:      breaker,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	goroutine.Go("api-rate-limiter-cleanup", logger, a.cleanupRateLimiters)
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.metricsMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/machines", a.listMachines).Methods("GET")
	v1.HandleFunc("/machines/{key}", a.getMachine).Methods("GET")
	v1.HandleFunc("/entities/{type}", a.listEntities).Methods("GET")
	v1.HandleFunc("/entities/{type}", a.createEntity).Methods("POST")
	v1.HandleFunc("/entities/{type}/{id}", a.getEntity).Methods("GET")
	v1.HandleFunc("/entities/{type}/{id}/transitions", a.transitionEntity).Methods("POST")
	v1.HandleFunc("/entities/{type}/{id}/history", a.getHistory).Methods("GET")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the root handler, for tests and embedding
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server and blocks until it stops. A clean shutdown
// through Stop returns nil.
func (a *API) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.Serve(ln)
}

// Serve serves requests on ln until Stop is called
func (a *API) Serve(ln net.Listener) error {
	server := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	a.serverMu.Lock()
	select {
	case <-a.stopCh:
		a.serverMu.Unlock()
		_ = ln.Close()
		return nil
	default:
	}
	a.server = server
	a.serverMu.Unlock()

	a.logger.Infow("API server listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.serverMu.Lock()
	a.stopOnce.Do(func() { close(a.stopCh) })
	server := a.server
	a.serverMu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}
