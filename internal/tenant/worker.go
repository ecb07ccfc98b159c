// ABOUTME: A Worker runs one tenant: its receive loop and per-user conversations.
// ABOUTME: Messages from one user are serialized; different users run concurrently.

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/botfactory/internal/conversation"
	"github.com/2389/botfactory/internal/dedupe"
	"github.com/2389/botfactory/internal/metrics"
)

// Fixed replies for command units.
const (
	GreetingText = "Hi! I'm ready to chat. Send me a message, or /reset to start over."
	ResetText    = "Conversation history cleared."
)

const (
	seenTTL  = 5 * time.Minute
	seenSize = 10000
)

// errTransportExited is reported when Run returns before signalling readiness.
var errTransportExited = errors.New("transport exited before receiving")

// Spec is the immutable configuration a tenant is started with.
type Spec struct {
	ID         int64
	Credential string
	Profile    string
}

// session is the typed per-user record. queue and draining are guarded by
// Worker.mu; history by session.mu.
type session struct {
	mu       sync.Mutex
	history  *conversation.History
	queue    []Inbound
	draining bool
}

func (s *session) appendTurn(t conversation.Turn) []conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Append(t)
	return s.history.Snapshot()
}

func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
}

func (s *session) snapshot() []conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Snapshot()
}

// Worker is one running tenant. It is single-use: started once, stopped once.
type Worker struct {
	spec         Spec
	transport    Transport
	logger       *slog.Logger
	metrics      *metrics.Metrics
	historyLimit int
	seen         *dedupe.Cache[int64]

	mu        sync.Mutex
	gateway   Completer
	sessions  map[int64]*session
	accepting bool
	stopping  bool
	inflight  sync.WaitGroup

	cancelRecv     context.CancelFunc
	recvDone       chan struct{}
	handlerCtx     context.Context
	cancelHandlers context.CancelFunc
}

type workerParams struct {
	Spec         Spec
	Transport    Transport
	Gateway      Completer
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	HistoryLimit int
}

func newWorker(p workerParams) *Worker {
	handlerCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		spec:           p.Spec,
		transport:      p.Transport,
		gateway:        p.Gateway,
		logger:         p.Logger,
		metrics:        p.Metrics,
		historyLimit:   p.HistoryLimit,
		seen:           dedupe.New[int64](seenTTL, seenSize),
		sessions:       make(map[int64]*session),
		recvDone:       make(chan struct{}),
		handlerCtx:     handlerCtx,
		cancelHandlers: cancel,
	}
}

// ID returns the tenant ID.
func (w *Worker) ID() int64 { return w.spec.ID }

// Done is closed once the receive loop has returned.
func (w *Worker) Done() <-chan struct{} { return w.recvDone }

// History returns a copy of a user's conversation, or nil if the user has none.
func (w *Worker) History(userID int64) []conversation.Turn {
	w.mu.Lock()
	s, ok := w.sessions[userID]
	w.mu.Unlock()
	if !ok {
		return nil
	}
	return s.snapshot()
}

// start launches the receive loop and waits until the transport reports that
// it is receiving. The loop's lifetime is independent of ctx, which only
// bounds the wait.
func (w *Worker) start(ctx context.Context) error {
	recvCtx, cancel := context.WithCancel(context.Background())
	w.cancelRecv = cancel

	w.mu.Lock()
	w.accepting = true
	w.mu.Unlock()

	ready := make(chan struct{})
	var readyOnce sync.Once
	errCh := make(chan error, 1)

	go func() {
		defer close(w.recvDone)
		err := w.runTransport(recvCtx, func() { readyOnce.Do(func() { close(ready) }) })
		errCh <- err
		if recvCtx.Err() == nil {
			w.logger.Error("transport stopped unexpectedly", "error", err)
		}
	}()

	select {
	case <-ready:
		return nil
	case err := <-errCh:
		if err == nil {
			err = errTransportExited
		}
		w.abort()
		return fmt.Errorf("starting transport: %w", err)
	case <-ctx.Done():
		w.abort()
		return fmt.Errorf("waiting for transport: %w", ctx.Err())
	}
}

// runTransport converts a panic inside the transport into an error.
func (w *Worker) runTransport(ctx context.Context, ready func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return w.transport.Run(ctx, w.dispatch, ready)
}

// abort tears down a worker whose start failed.
func (w *Worker) abort() {
	w.mu.Lock()
	w.accepting = false
	w.stopping = true
	w.mu.Unlock()
	w.cancelRecv()
	w.cancelHandlers()
	w.seen.Close()
}

// dispatch is called by the transport for each unit, in arrival order. It
// never blocks on the gateway: the unit is queued on the user's session.
func (w *Worker) dispatch(in Inbound) {
	if in.UpdateID != 0 && w.seen.Seen(in.UpdateID) {
		w.metrics.MessageHandled("duplicate")
		w.logger.Debug("dropping redelivered update", "update_id", in.UpdateID)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.accepting {
		w.metrics.MessageHandled("rejected")
		w.logger.Debug("dropping update, worker stopping", "update_id", in.UpdateID)
		return
	}

	s, ok := w.sessions[in.UserID]
	if !ok {
		s = &session{history: conversation.NewHistory(w.historyLimit)}
		w.sessions[in.UserID] = s
	}
	s.queue = append(s.queue, in)
	w.inflight.Add(1)

	if !s.draining {
		s.draining = true
		go w.drain(s)
	}
}

// drain processes a session's queue until it is empty.
func (w *Worker) drain(s *session) {
	for {
		w.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			w.mu.Unlock()
			return
		}
		in := s.queue[0]
		s.queue[0] = Inbound{}
		s.queue = s.queue[1:]
		w.mu.Unlock()

		w.handle(in, s)
		w.inflight.Done()
	}
}

func (w *Worker) handle(in Inbound, s *session) {
	logger := w.logger.With(
		"user_id", in.UserID,
		"kind", in.Kind.String(),
		"msg_id", uuid.NewString(),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", "panic", r)
		}
	}()

	ctx := w.handlerCtx
	w.metrics.MessageHandled(in.Kind.String())

	switch in.Kind {
	case KindStart:
		s.reset()
		w.reply(ctx, logger, in.ChatID, GreetingText)
	case KindReset:
		s.reset()
		w.reply(ctx, logger, in.ChatID, ResetText)
	default:
		w.converse(ctx, logger, in, s)
	}
}

// converse runs one exchange. A failed gateway call leaves only the user turn
// in the history and replies with the gateway's apology.
func (w *Worker) converse(ctx context.Context, logger *slog.Logger, in Inbound, s *session) {
	history := s.appendTurn(conversation.UserTurn(in.Text))

	w.mu.Lock()
	gw := w.gateway
	w.mu.Unlock()
	if gw == nil {
		logger.Warn("gateway released before message was handled")
		return
	}

	res := gw.Complete(ctx, history, w.spec.Profile)
	if !res.OK() {
		logger.Warn("reply degraded", "outcome", res.Outcome.String(), "cause", res.Cause())
		w.reply(ctx, logger, in.ChatID, res.Reply())
		return
	}

	s.appendTurn(conversation.AssistantTurn(res.Text))
	w.reply(ctx, logger, in.ChatID, res.Text)
}

func (w *Worker) reply(ctx context.Context, logger *slog.Logger, chatID int64, text string) {
	if err := w.transport.Send(ctx, chatID, text); err != nil {
		logger.Error("failed to send reply", "chat_id", chatID, "error", err)
	}
}

// stop halts receiving, drains queued units and releases the gateway. ctx
// bounds the whole sequence; when it expires, handlers still running are
// cancelled and stop proceeds. It reports whether the drain completed.
func (w *Worker) stop(ctx context.Context) bool {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return true
	}
	w.stopping = true
	w.accepting = false
	w.mu.Unlock()

	w.cancelRecv()
	select {
	case <-w.recvDone:
	case <-ctx.Done():
		w.logger.Warn("transport did not stop in time")
	}

	drained := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(drained)
	}()

	clean := true
	select {
	case <-drained:
	case <-ctx.Done():
		clean = false
		w.logger.Warn("drain timed out, cancelling in-flight handlers")
	}
	w.cancelHandlers()

	w.mu.Lock()
	w.gateway = nil
	w.sessions = make(map[int64]*session)
	w.mu.Unlock()

	w.seen.Close()
	return clean
}

func (w *Worker) stopRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopping
}
