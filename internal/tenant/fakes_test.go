// ABOUTME: Test doubles for the tenant package: a scriptable transport and gateway.
// ABOUTME: Shared by worker and supervisor tests.

package tenant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/botfactory/internal/conversation"
	"github.com/2389/botfactory/internal/llm"
)

const testCredential = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"

type sentMessage struct {
	ChatID int64
	Text   string
}

// fakeTransport stands in for a chat transport. Units are pushed with deliver.
type fakeTransport struct {
	runErr     error
	neverReady bool
	panicOnRun bool
	exit       chan struct{}
	// readyGate, when set, holds Run back from signalling ready until closed.
	readyGate chan struct{}

	mu     sync.Mutex
	handle func(Inbound)
	sent   []sentMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{exit: make(chan struct{})}
}

func (f *fakeTransport) Run(ctx context.Context, handle func(Inbound), ready func()) error {
	if f.panicOnRun {
		panic("transport exploded")
	}
	if f.runErr != nil {
		return f.runErr
	}
	f.mu.Lock()
	f.handle = handle
	f.mu.Unlock()
	if f.readyGate != nil {
		select {
		case <-f.readyGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !f.neverReady {
		ready()
	}
	select {
	case <-ctx.Done():
		return nil
	case <-f.exit:
		return errors.New("connection lost")
	}
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeTransport) deliver(in Inbound) {
	f.mu.Lock()
	h := f.handle
	f.mu.Unlock()
	h(in)
}

func (f *fakeTransport) say(updateID, userID int64, text string) {
	f.deliver(Inbound{UpdateID: updateID, UserID: userID, ChatID: userID, Kind: KindText, Text: text})
}

func (f *fakeTransport) replies(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeTransport) waitReplies(t *testing.T, chatID int64, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.replies(chatID)) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return f.replies(chatID)
}

// fakeGateway answers completions with respond, recording every request.
type fakeGateway struct {
	respond func(ctx context.Context, history []conversation.Turn) llm.Result

	mu       sync.Mutex
	calls    [][]conversation.Turn
	profiles []string
}

func (g *fakeGateway) Complete(ctx context.Context, history []conversation.Turn, profile string, _ ...llm.CallOption) llm.Result {
	g.mu.Lock()
	g.calls = append(g.calls, history)
	g.profiles = append(g.profiles, profile)
	g.mu.Unlock()
	return g.respond(ctx, history)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func replyWith(text string) func(context.Context, []conversation.Turn) llm.Result {
	return func(context.Context, []conversation.Turn) llm.Result {
		return llm.Result{Outcome: llm.OutcomeSuccess, Text: text}
	}
}

// echoReply answers "reply-<last user text>".
func echoReply(_ context.Context, history []conversation.Turn) llm.Result {
	last := history[len(history)-1]
	return llm.Result{Outcome: llm.OutcomeSuccess, Text: "reply-" + last.Content}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a supervisor to fake transports, one per start.
type harness struct {
	sup     *Supervisor
	gateway *fakeGateway

	mu         sync.Mutex
	transports []*fakeTransport
	prepare    func(*fakeTransport)
}

func newHarness(t *testing.T, respond func(context.Context, []conversation.Turn) llm.Result, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{gateway: &fakeGateway{respond: respond}}
	o := Options{
		Transports: func(string) (Transport, error) {
			ft := newFakeTransport()
			h.mu.Lock()
			if h.prepare != nil {
				h.prepare(ft)
			}
			h.transports = append(h.transports, ft)
			h.mu.Unlock()
			return ft, nil
		},
		Gateway:      h.gateway,
		Logger:       discardLogger(),
		StartTimeout: time.Second,
		StopTimeout:  time.Second,
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.sup = NewSupervisor(o)
	t.Cleanup(func() { h.sup.Shutdown(context.Background()) })
	return h
}

func (h *harness) last() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[len(h.transports)-1]
}

func (h *harness) startTenant(t *testing.T, id int64, profile string) (*Worker, *fakeTransport) {
	t.Helper()
	require.True(t, h.sup.Start(context.Background(), Spec{ID: id, Credential: testCredential, Profile: profile}))
	w, ok := h.sup.Worker(id)
	require.True(t, ok)
	return w, h.last()
}
