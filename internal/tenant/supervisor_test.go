// ABOUTME: Tests for the tenant supervisor's lifecycle guarantees.
// ABOUTME: Covers start/stop atomicity, failure isolation and shutdown.

package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/botfactory/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func spec(id int64) Spec {
	return Spec{ID: id, Credential: testCredential, Profile: "test"}
}

func TestSupervisor_StartThenStop(t *testing.T) {
	h := newHarness(t, echoReply)
	ctx := context.Background()

	require.True(t, h.sup.Start(ctx, spec(7)))
	assert.Equal(t, []int64{7}, h.sup.Running())
	assert.True(t, h.sup.IsRunning(7))

	require.True(t, h.sup.Stop(ctx, 7))
	assert.Empty(t, h.sup.Running())
	assert.False(t, h.sup.IsRunning(7))
}

func TestSupervisor_SecondStartFails(t *testing.T) {
	h := newHarness(t, echoReply)
	ctx := context.Background()

	assert.True(t, h.sup.Start(ctx, spec(1)))
	assert.False(t, h.sup.Start(ctx, spec(1)))
	assert.Equal(t, []int64{1}, h.sup.Running())
}

func TestSupervisor_ConcurrentStartsSameIDExactlyOneWins(t *testing.T) {
	h := newHarness(t, echoReply)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.sup.Start(context.Background(), spec(1)) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, []int64{1}, h.sup.Running())
}

func TestSupervisor_ConcurrentStartsDifferentIDs(t *testing.T) {
	h := newHarness(t, echoReply)

	var wg sync.WaitGroup
	for id := int64(1); id <= 10; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, h.sup.Start(context.Background(), spec(id)))
		}()
	}
	wg.Wait()

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, h.sup.Running())
}

func TestSupervisor_StopUnknownID(t *testing.T) {
	h := newHarness(t, echoReply)
	ctx := context.Background()
	require.True(t, h.sup.Start(ctx, spec(1)))

	assert.False(t, h.sup.Stop(ctx, 99))
	assert.Equal(t, []int64{1}, h.sup.Running())
}

func TestSupervisor_ConcurrentStopsExactlyOneWins(t *testing.T) {
	h := newHarness(t, echoReply)
	require.True(t, h.sup.Start(context.Background(), spec(1)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.sup.Stop(context.Background(), 1) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Empty(t, h.sup.Running())
}

func TestSupervisor_StopWaitsForPendingStart(t *testing.T) {
	h := newHarness(t, echoReply)
	gate := make(chan struct{})
	h.prepare = func(ft *fakeTransport) { ft.readyGate = gate }

	started := make(chan bool, 1)
	go func() { started <- h.sup.Start(context.Background(), spec(1)) }()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.transports) == 1
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan bool, 1)
	go func() { stopped <- h.sup.Stop(context.Background(), 1) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the start was still pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	assert.True(t, <-started)
	assert.True(t, <-stopped)
	assert.Empty(t, h.sup.Running())
}

func TestSupervisor_StopGivesUpOnPendingStartWhenContextEnds(t *testing.T) {
	h := newHarness(t, echoReply)
	gate := make(chan struct{})
	h.prepare = func(ft *fakeTransport) { ft.readyGate = gate }

	started := make(chan bool, 1)
	go func() { started <- h.sup.Start(context.Background(), spec(1)) }()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.transports) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, h.sup.Stop(ctx, 1))

	close(gate)
	assert.True(t, <-started)
	assert.Equal(t, []int64{1}, h.sup.Running())
}

func TestSupervisor_StartFailures(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		prepare    func(*fakeTransport)
	}{
		{name: "invalid credential", credential: "not-a-token"},
		{name: "transport rejects", credential: testCredential, prepare: func(f *fakeTransport) { f.runErr = errors.New("unauthorized") }},
		{name: "transport panics", credential: testCredential, prepare: func(f *fakeTransport) { f.panicOnRun = true }},
		{name: "never ready", credential: testCredential, prepare: func(f *fakeTransport) { f.neverReady = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, echoReply, func(o *Options) { o.StartTimeout = 50 * time.Millisecond })
			h.prepare = tt.prepare

			assert.False(t, h.sup.Start(context.Background(), Spec{ID: 3, Credential: tt.credential}))
			assert.Empty(t, h.sup.Running())

			// The ID is eligible again once the failed start has unwound.
			h.prepare = nil
			assert.True(t, h.sup.Start(context.Background(), spec(3)))
		})
	}
}

func TestSupervisor_TransportFactoryError(t *testing.T) {
	sup := NewSupervisor(Options{
		Transports: func(string) (Transport, error) { return nil, errors.New("no route") },
		Gateway:    &fakeGateway{respond: echoReply},
		Logger:     discardLogger(),
	})

	assert.False(t, sup.Start(context.Background(), spec(1)))
	assert.Empty(t, sup.Running())
}

func TestSupervisor_FailedTenantDoesNotAffectOthers(t *testing.T) {
	h := newHarness(t, echoReply)
	ctx := context.Background()
	_, healthy := h.startTenant(t, 1, "")

	h.prepare = func(f *fakeTransport) { f.panicOnRun = true }
	assert.False(t, h.sup.Start(ctx, spec(2)))

	healthy.say(1, 5, "still here")
	assert.Equal(t, []string{"reply-still here"}, healthy.waitReplies(t, 5, 1))
	assert.Equal(t, []int64{1}, h.sup.Running())
}

func TestSupervisor_RemovesTenantWhoseTransportExits(t *testing.T) {
	h := newHarness(t, echoReply)
	_, ft := h.startTenant(t, 4, "")

	close(ft.exit)

	require.Eventually(t, func() bool { return !h.sup.IsRunning(4) }, time.Second, 5*time.Millisecond)
	assert.True(t, h.sup.Start(context.Background(), spec(4)))
}

func TestSupervisor_Restart(t *testing.T) {
	h := newHarness(t, echoReply)
	first, _ := h.startTenant(t, 1, "old")

	require.True(t, h.sup.Restart(context.Background(), Spec{ID: 1, Credential: testCredential, Profile: "new"}))

	second, ok := h.sup.Worker(1)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, "new", second.spec.Profile)
}

func TestSupervisor_StopAll(t *testing.T) {
	h := newHarness(t, echoReply)
	for id := int64(1); id <= 5; id++ {
		h.startTenant(t, id, "")
	}

	h.sup.StopAll(context.Background())

	assert.Empty(t, h.sup.Running())
}

func TestSupervisor_ShutdownRejectsStarts(t *testing.T) {
	h := newHarness(t, echoReply)
	h.startTenant(t, 1, "")

	h.sup.Shutdown(context.Background())

	assert.Empty(t, h.sup.Running())
	assert.False(t, h.sup.Start(context.Background(), spec(2)))
}

func TestSupervisor_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, echoReply, func(o *Options) { o.Metrics = m })
	ctx := context.Background()

	require.True(t, h.sup.Start(ctx, spec(1)))
	require.False(t, h.sup.Start(ctx, spec(1)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TenantsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TenantStarts.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TenantStarts.WithLabelValues("duplicate")))

	require.True(t, h.sup.Stop(ctx, 1))
	require.False(t, h.sup.Stop(ctx, 1))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.TenantsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TenantStops.WithLabelValues("not_found")))
}
