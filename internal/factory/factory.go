// ABOUTME: Process orchestrator that wires the registry, gateway, supervisor and factory bot
// ABOUTME: Serves health, metrics and the operator API, and owns startup reconciliation and shutdown

package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/botfactory/internal/auth"
	"github.com/2389/botfactory/internal/config"
	"github.com/2389/botfactory/internal/llm"
	"github.com/2389/botfactory/internal/metrics"
	"github.com/2389/botfactory/internal/provision"
	"github.com/2389/botfactory/internal/store"
	"github.com/2389/botfactory/internal/tenant"
	"github.com/2389/botfactory/internal/transport"
)

// shutdownGrace is added to the tenant stop timeout when bounding the whole
// shutdown sequence.
const shutdownGrace = 5 * time.Second

// Gateway is the completion client shared by tenants and the factory bot.
type Gateway interface {
	tenant.Completer
	provision.ProfileGenerator
	Close()
}

// Option overrides a dependency that New would otherwise build from config.
type Option func(*Factory)

// WithStore uses st instead of opening database.path.
func WithStore(st store.Store) Option {
	return func(f *Factory) { f.store = st }
}

// WithGateway uses g instead of an llm.Client built from the gateway section.
func WithGateway(g Gateway) Option {
	return func(f *Factory) { f.gateway = g }
}

// WithTransports uses tf to connect tenants instead of the Bot API.
func WithTransports(tf tenant.TransportFactory) Option {
	return func(f *Factory) { f.transports = tf }
}

// Factory owns every long-lived component of the process.
type Factory struct {
	config     *config.Config
	logger     *slog.Logger
	store      store.Store
	gateway    Gateway
	transports tenant.TransportFactory
	metrics    *metrics.Metrics
	supervisor *tenant.Supervisor
	service    *provision.Service
	bot        *provision.Bot
	httpServer *http.Server

	// runBot runs the factory bot until its context ends.
	runBot func(ctx context.Context) error

	ready     atomic.Bool
	stopBot   context.CancelFunc
	botDone   chan struct{}
	closeOnce sync.Once
}

// New builds a Factory from cfg. Nothing connects until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		config:  cfg,
		logger:  logger.With("component", "factory"),
		botDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	if cfg.Metrics.Enabled {
		f.metrics = metrics.New()
	}

	if f.store == nil {
		st, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		f.store = st
	}

	if f.gateway == nil {
		f.gateway = llm.New(llm.Config{
			BaseURL:     cfg.Gateway.BaseURL,
			APIKey:      cfg.Gateway.APIKey,
			Model:       cfg.Gateway.Model,
			Temperature: cfg.Gateway.Temperature,
		}, logger, f.metrics)
	}

	if f.transports == nil {
		f.transports = transport.Factory(transport.Options{
			InitTimeout: cfg.Tenants.StartTimeout,
			Logger:      logger,
		})
	}

	f.supervisor = tenant.NewSupervisor(tenant.Options{
		Transports:   f.transports,
		Gateway:      f.gateway,
		Logger:       logger,
		Metrics:      f.metrics,
		StartTimeout: cfg.Tenants.StartTimeout,
		StopTimeout:  cfg.Tenants.StopTimeout,
		HistoryLimit: cfg.Tenants.HistoryLimit,
	})
	f.service = provision.NewService(f.store, f.supervisor, f.gateway, logger, cfg.Tenants.ReconcileConcurrency)
	f.bot = provision.NewBot(f.service, logger)
	f.runBot = func(ctx context.Context) error {
		return f.bot.Run(ctx, cfg.Factory.Token, transport.Options{InitTimeout: cfg.Tenants.StartTimeout})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", f.handleHealth)
	mux.HandleFunc("GET /health/ready", f.handleReady)
	if f.metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, f.metrics.Handler())
	}
	if err := f.registerAPIRoutes(mux); err != nil {
		_ = f.store.Close()
		return nil, err
	}

	f.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           withRequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return f, nil
}

// registerAPIRoutes mounts the operator API behind JWT auth. Without a
// secret the API is not served at all.
func (f *Factory) registerAPIRoutes(mux *http.ServeMux) error {
	if f.config.Auth.JWTSecret == "" {
		f.logger.Warn("operator API disabled - no jwt_secret configured")
		return nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(f.config.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	authMiddleware := auth.HTTPAuthMiddleware(verifier)
	mux.Handle("GET /api/tenants", authMiddleware(http.HandlerFunc(f.handleListTenants)))
	mux.Handle("POST /api/tenants/{id}/start", authMiddleware(http.HandlerFunc(f.handleStartTenant)))
	mux.Handle("POST /api/tenants/{id}/stop", authMiddleware(http.HandlerFunc(f.handleStopTenant)))
	mux.Handle("DELETE /api/tenants/{id}", authMiddleware(http.HandlerFunc(f.handleDeleteTenant)))
	mux.Handle("GET /api/tenants/{id}/audit", authMiddleware(http.HandlerFunc(f.handleTenantAudit)))
	f.logger.Info("operator API enabled")
	return nil
}

// Handler returns the HTTP handler serving health, metrics and the API.
func (f *Factory) Handler() http.Handler {
	return f.httpServer.Handler
}

// Supervisor returns the tenant supervisor.
func (f *Factory) Supervisor() *tenant.Supervisor {
	return f.supervisor
}

// Run serves HTTP, starts the factory bot and reconciles active tenants,
// then blocks until ctx is cancelled or a component fails. Shutdown runs
// before Run returns.
func (f *Factory) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", f.config.Server.HTTPAddr)
	if err != nil {
		_ = f.close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		f.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := f.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	botCtx, stopBot := context.WithCancel(context.Background())
	f.stopBot = stopBot
	go func() {
		defer close(f.botDone)
		if err := f.runBot(botCtx); err != nil {
			errCh <- fmt.Errorf("factory bot: %w", err)
		}
	}()

	if err := f.reconcile(ctx); err != nil {
		f.logger.Error("reconciliation failed", "error", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		f.logger.Info("context canceled, initiating shutdown")
	case runErr = <-errCh:
		f.logger.Error("component failed", "error", runErr)
	}

	if err := f.gracefulShutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// reconcile starts every tenant flagged active and then marks the process
// ready. Readiness flips even when the registry cannot be read.
func (f *Factory) reconcile(ctx context.Context) error {
	defer f.ready.Store(true)
	started, failed, err := f.service.Reconcile(ctx)
	if err != nil {
		return err
	}
	f.logger.Info("startup reconciliation complete", "started", started, "failed", failed)
	return nil
}

func (f *Factory) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), f.config.Tenants.StopTimeout+shutdownGrace)
	defer cancel()
	return f.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, every tenant and the factory bot, then
// releases the gateway client and the store.
func (f *Factory) Shutdown(ctx context.Context) error {
	f.logger.Info("shutting down")
	f.ready.Store(false)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", f.httpServer.Shutdown(ctx))

	f.supervisor.Shutdown(ctx)

	if f.stopBot != nil {
		f.stopBot()
		select {
		case <-f.botDone:
		case <-ctx.Done():
			f.logger.Warn("factory bot did not stop in time")
		}
	}

	errs = appendCloseError(errs, "store close", f.close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (f *Factory) close() error {
	var err error
	f.closeOnce.Do(func() {
		f.gateway.Close()
		err = f.store.Close()
	})
	return err
}

// handleHealth returns 200 OK if the process is alive.
func (f *Factory) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once startup reconciliation has finished.
func (f *Factory) handleReady(w http.ResponseWriter, r *http.Request) {
	if !f.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("reconciling"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tenants)", len(f.supervisor.Running()))
}
