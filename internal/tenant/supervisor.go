// ABOUTME: Supervisor keeps the registry of running tenant workers.
// ABOUTME: Start, stop and restart are atomic per tenant ID and never panic the caller.

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/botfactory/internal/conversation"
	"github.com/2389/botfactory/internal/metrics"
)

// ErrAlreadyRunning indicates the tenant ID already has a live or pending worker.
var ErrAlreadyRunning = errors.New("tenant already running")

// ErrShutdown indicates the supervisor no longer accepts starts.
var ErrShutdown = errors.New("supervisor shut down")

// Defaults for Options fields left zero.
const (
	DefaultStartTimeout = 30 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	DefaultStopAllLimit = 8
)

// Options configures a Supervisor.
type Options struct {
	Transports   TransportFactory
	Gateway      Completer
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	StartTimeout time.Duration
	StopTimeout  time.Duration
	HistoryLimit int
	StopAllLimit int
}

// Supervisor maps tenant IDs to running workers.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	running map[int64]*Worker
	// pending holds IDs that are mid-start or mid-stop and so not eligible
	// for a new start. The channel is closed when the transition settles.
	pending map[int64]chan struct{}
	closed  bool
}

// NewSupervisor creates a Supervisor with no running tenants.
func NewSupervisor(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = conversation.DefaultLimit
	}
	if opts.StopAllLimit <= 0 {
		opts.StopAllLimit = DefaultStopAllLimit
	}
	return &Supervisor{
		opts:    opts,
		logger:  opts.Logger.With("component", "supervisor"),
		running: make(map[int64]*Worker),
		pending: make(map[int64]chan struct{}),
	}
}

// Start launches a worker for spec and returns true once it is receiving.
// It returns false if the ID is already running, starting or stopping, or
// if the worker could not be initialized.
func (s *Supervisor) Start(ctx context.Context, spec Spec) bool {
	logger := s.logger.With("tenant_id", spec.ID, "credential", RedactCredential(spec.Credential))

	if err := s.start(ctx, spec); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			logger.Warn("tenant already running")
			s.opts.Metrics.TenantStarted("duplicate")
		default:
			logger.Error("failed to start tenant", "error", err)
			s.opts.Metrics.TenantStarted("failed")
		}
		return false
	}

	s.opts.Metrics.TenantStarted("ok")
	logger.Info("tenant started", "running", s.count())
	return true
}

func (s *Supervisor) start(ctx context.Context, spec Spec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start panic: %v", r)
		}
	}()

	if err := ValidateCredential(spec.Credential); err != nil {
		return err
	}
	if err := s.reserve(spec.ID); err != nil {
		return err
	}
	registered := false
	defer func() {
		if !registered {
			s.release(spec.ID)
		}
	}()

	transport, err := s.opts.Transports(spec.Credential)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}

	w := newWorker(workerParams{
		Spec:         spec,
		Transport:    transport,
		Gateway:      s.opts.Gateway,
		Logger:       s.opts.Logger.With("component", "tenant", "tenant_id", spec.ID),
		Metrics:      s.opts.Metrics,
		HistoryLimit: s.opts.HistoryLimit,
	})

	startCtx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
	defer cancel()
	if err := w.start(startCtx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.stopWorker(w)
		return ErrShutdown
	}
	s.settleLocked(spec.ID)
	s.running[spec.ID] = w
	registered = true
	s.mu.Unlock()

	go s.watch(w)
	return nil
}

func (s *Supervisor) reserve(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShutdown
	}
	if _, ok := s.running[id]; ok {
		return ErrAlreadyRunning
	}
	if _, ok := s.pending[id]; ok {
		return ErrAlreadyRunning
	}
	s.pending[id] = make(chan struct{})
	return nil
}

func (s *Supervisor) release(id int64) {
	s.mu.Lock()
	s.settleLocked(id)
	s.mu.Unlock()
}

// settleLocked ends id's pending transition and wakes its waiters.
func (s *Supervisor) settleLocked(id int64) {
	if ch, ok := s.pending[id]; ok {
		close(ch)
		delete(s.pending, id)
	}
}

// Stop halts a running tenant, waiting a bounded time for in-flight messages.
// A stop that arrives while the ID is still starting waits for the start to
// settle and then stops the new worker. Only one of several concurrent stops
// for the same ID returns true.
func (s *Supervisor) Stop(ctx context.Context, id int64) bool {
	return s.stopIf(ctx, id, nil)
}

// stopIf stops id, but only if its registered worker is want (any worker
// when want is nil).
func (s *Supervisor) stopIf(ctx context.Context, id int64, want *Worker) bool {
	logger := s.logger.With("tenant_id", id)

	s.mu.Lock()
	w, ok := s.running[id]
	for !ok && want == nil {
		ch, busy := s.pending[id]
		if !busy {
			break
		}
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			logger.Warn("gave up waiting for tenant transition", "error", ctx.Err())
			s.opts.Metrics.TenantStopped("not_found", false)
			return false
		}
		s.mu.Lock()
		w, ok = s.running[id]
	}
	if ok && want != nil && w != want {
		ok = false
	}
	if ok {
		delete(s.running, id)
		s.pending[id] = make(chan struct{})
	}
	s.mu.Unlock()

	if !ok {
		logger.Warn("tenant not running")
		s.opts.Metrics.TenantStopped("not_found", false)
		return false
	}
	defer s.release(id)

	stopCtx, cancel := context.WithTimeout(ctx, s.opts.StopTimeout)
	defer cancel()

	result := "ok"
	if !s.safeStop(stopCtx, w) {
		result = "timeout"
	}
	s.opts.Metrics.TenantStopped(result, true)
	logger.Info("tenant stopped", "result", result, "running", s.count())
	return true
}

// safeStop stops w, converting a panic into an unclean stop.
func (s *Supervisor) safeStop(ctx context.Context, w *Worker) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stop panic", "tenant_id", w.ID(), "panic", r)
			clean = false
		}
	}()
	return w.stop(ctx)
}

func (s *Supervisor) stopWorker(w *Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer cancel()
	s.safeStop(ctx, w)
}

// watch removes a worker whose transport exits without being asked to.
func (s *Supervisor) watch(w *Worker) {
	<-w.Done()
	if w.stopRequested() {
		return
	}
	s.logger.Error("tenant transport exited, removing tenant", "tenant_id", w.ID())
	s.stopIf(context.Background(), w.ID(), w)
}

// Restart stops id if it is running and starts it again with spec.
func (s *Supervisor) Restart(ctx context.Context, spec Spec) bool {
	s.Stop(ctx, spec.ID)
	return s.Start(ctx, spec)
}

// StopAll stops every running tenant with bounded parallelism. Individual
// failures are logged and do not prevent the others from stopping.
func (s *Supervisor) StopAll(ctx context.Context) {
	ids := s.Running()
	if len(ids) == 0 {
		return
	}
	s.logger.Info("stopping all tenants", "count", len(ids))

	var g errgroup.Group
	g.SetLimit(s.opts.StopAllLimit)
	for _, id := range ids {
		g.Go(func() error {
			s.Stop(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// Shutdown refuses further starts and stops every running tenant.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.StopAll(ctx)
}

// Running returns a sorted snapshot of running tenant IDs.
func (s *Supervisor) Running() []int64 {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// IsRunning reports whether id currently has a live worker.
func (s *Supervisor) IsRunning(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// Worker returns the live worker for id.
func (s *Supervisor) Worker(id int64) (*Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.running[id]
	return w, ok
}

func (s *Supervisor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
