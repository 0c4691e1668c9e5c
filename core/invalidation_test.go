package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"entitycore/metrics"
	"entitycore/util/goroutine"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// recordingEvictor records every Evict call and fails when err is set
type recordingEvictor struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	delay time.Duration
}

func (e *recordingEvictor) Evict(ctx context.Context, triggers []string) error {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]string, len(triggers))
	copy(cp, triggers)
	e.calls = append(e.calls, cp)
	return e.err
}

func (e *recordingEvictor) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.calls...)
}

func newTestInvalidation(t *testing.T, evictor Evictor, cfg InvalidationConfig) *InvalidationRegistry {
	t.Helper()
	r := NewInvalidationRegistry(context.Background(), evictor, cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r
}

func TestInvalidation_FlushDeduplicates(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	ev := &recordingEvictor{}
	r := newTestInvalidation(t, ev, DefaultInvalidationConfig())

	r.RegisterTrigger("Order", "listOrders")
	r.RegisterTrigger("Order", "listOrders")
	r.RegisterTrigger("Invoice", "listInvoices")

	r.Flush("Order")
	r.Wait()

	assert.Equal(t, [][]string{{"listOrders"}}, ev.Calls())
}

func TestInvalidation_FlushKeepsRegistrationOrder(t *testing.T) {
	ev := &recordingEvictor{}
	r := newTestInvalidation(t, ev, DefaultInvalidationConfig())

	r.RegisterTrigger("Order", "getOrder")
	r.RegisterTrigger("Order", "listOrders")
	r.RegisterTrigger("Order", "getOrder")
	r.RegisterTrigger("Order", "orderStats")

	assert.Equal(t, []string{"getOrder", "listOrders", "orderStats"}, r.TriggersFor("Order"))
	assert.Len(t, r.Triggers(), 4, "duplicates are kept in the registry")
}

func TestInvalidation_FlushWithoutTriggers(t *testing.T) {
	ev := &recordingEvictor{}
	r := newTestInvalidation(t, ev, DefaultInvalidationConfig())
	r.RegisterTrigger("Invoice", "listInvoices")

	assert.NotPanics(t, func() { r.Flush("Order") })
	r.Wait()
	assert.Empty(t, ev.Calls())
	assert.NoError(t, r.FlushSync(context.Background(), "Order"))
}

func TestInvalidation_EvictionFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ev := &recordingEvictor{err: errors.New("connection refused")}
	r := NewInvalidationRegistry(context.Background(), ev, DefaultInvalidationConfig(), zap.New(core).Sugar())
	require.NoError(t, r.Start())
	defer r.Stop()

	r.RegisterTrigger("Order", "listOrders")
	before := testutil.ToFloat64(metrics.CacheEvictionFailures)

	assert.NotPanics(t, func() { r.Flush("Order") })
	r.Wait()

	assert.Len(t, ev.Calls(), 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CacheEvictionFailures))
	require.Equal(t, 1, logs.FilterMessageSnippet("Cache invalidation failed").Len())
}

func TestInvalidation_FlushSyncReturnsError(t *testing.T) {
	cause := errors.New("redis down")
	r := newTestInvalidation(t, &recordingEvictor{err: cause}, DefaultInvalidationConfig())
	r.RegisterTrigger("Order", "listOrders")

	err := r.FlushSync(context.Background(), "Order")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheEviction)
	assert.ErrorIs(t, err, cause)

	var cee *CacheEvictionError
	require.ErrorAs(t, err, &cee)
	assert.Equal(t, "Order", cee.EntityType)
	assert.Equal(t, []string{"listOrders"}, cee.Triggers)
}

func TestInvalidation_FlushDoesNotBlockOnSlowCache(t *testing.T) {
	ev := &recordingEvictor{delay: 200 * time.Millisecond}
	r := newTestInvalidation(t, ev, InvalidationConfig{Workers: 1, QueueSize: 4, EvictTimeout: time.Second})
	r.RegisterTrigger("Order", "listOrders")

	start := time.Now()
	r.Flush("Order")
	assert.Less(t, time.Since(start), 50*time.Millisecond, "Flush must return before eviction completes")

	r.Wait()
	assert.Len(t, ev.Calls(), 1)
}

func TestInvalidation_EvictTimeout(t *testing.T) {
	ev := &recordingEvictor{delay: time.Second}
	r := newTestInvalidation(t, ev, InvalidationConfig{Workers: 1, QueueSize: 1, EvictTimeout: 20 * time.Millisecond})
	r.RegisterTrigger("Order", "listOrders")

	err := r.FlushSync(context.Background(), "Order")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvalidation_QueueFullDrops(t *testing.T) {
	block := make(chan struct{})
	ev := EvictorFunc(func(ctx context.Context, triggers []string) error {
		<-block
		return nil
	})
	r := newTestInvalidation(t, ev, InvalidationConfig{Workers: 1, QueueSize: 1, EvictTimeout: 5 * time.Second})
	r.RegisterTrigger("Order", "listOrders")

	before := testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Order", "dropped"))

	// one running, one queued; the rest are dropped without blocking
	for i := 0; i < 5; i++ {
		r.Flush("Order")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Order", "dropped")) >= before+3
	}, time.Second, 5*time.Millisecond)

	close(block)
	r.Wait()
}

func TestInvalidation_SubmitTimeoutWaitsForSpace(t *testing.T) {
	release := make(chan struct{})
	ev := EvictorFunc(func(ctx context.Context, triggers []string) error {
		<-release
		return nil
	})
	r := newTestInvalidation(t, ev, InvalidationConfig{
		Workers:       1,
		QueueSize:     1,
		EvictTimeout:  5 * time.Second,
		SubmitTimeout: time.Second,
	})
	r.RegisterTrigger("Invoice", "listInvoices")

	r.Flush("Invoice")
	r.Flush("Invoice")

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	before := testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Invoice", "dropped"))
	r.Flush("Invoice")
	r.Wait()
	assert.Equal(t, before, testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Invoice", "dropped")))
}

func TestInvalidation_UnresolvedTrigger(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ev := &recordingEvictor{}
	r := NewInvalidationRegistry(context.Background(), ev, DefaultInvalidationConfig(), zap.New(core).Sugar())
	require.NoError(t, r.Start())
	defer r.Stop()

	r.RegisterTrigger("", "orphanQuery")
	r.RegisterTrigger("  ", "anotherOrphan")
	r.RegisterTrigger("Order", "listOrders")

	assert.Equal(t, 2, logs.Len(), "each unresolved registration is logged")
	unresolved := r.Unresolved()
	require.Len(t, unresolved, 2)
	assert.Equal(t, "orphanQuery", unresolved[0].Name)

	r.Flush("")
	r.Flush("Order")
	r.Wait()
	assert.Equal(t, [][]string{{"listOrders"}}, ev.Calls())
}

func TestInvalidation_FlushBeforeStart(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	ev := &recordingEvictor{}
	r := NewInvalidationRegistry(context.Background(), ev, DefaultInvalidationConfig(), zaptest.NewLogger(t).Sugar())
	r.RegisterTrigger("Order", "listOrders")

	r.Flush("Order")
	r.Wait()
	assert.Len(t, ev.Calls(), 1)
}

func TestInvalidation_NilEvictor(t *testing.T) {
	r := NewInvalidationRegistry(context.Background(), nil, DefaultInvalidationConfig(), nil)
	r.RegisterTrigger("Order", "listOrders")

	disabled := testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Order", "disabled"))
	empty := testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Order", "empty"))

	assert.NotPanics(t, func() { r.Flush("Order") })
	assert.ErrorIs(t, r.FlushSync(context.Background(), "Order"), ErrNoEvictor)

	assert.Equal(t, disabled+1, testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Order", "disabled")))
	assert.Equal(t, empty, testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Order", "empty")),
		"a missing cache is not reported as an entity without triggers")
}

func stopWithin(t *testing.T, r *InvalidationRegistry, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("Stop did not return within %s", d)
	}
}

func TestInvalidation_FlushAfterParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ev := &recordingEvictor{}
	r := NewInvalidationRegistry(ctx, ev, DefaultInvalidationConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, r.Start())
	r.RegisterTrigger("Shipment", "listShipments")

	cancel()
	time.Sleep(50 * time.Millisecond)

	before := testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Shipment", "dropped"))
	r.Flush("Shipment")
	stopWithin(t, r, 2*time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Shipment", "dropped")))
	assert.Empty(t, ev.Calls())
}

func TestInvalidation_QueuedFlushesDroppedOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	ev := EvictorFunc(func(ctx context.Context, triggers []string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})
	core, logs := observer.New(zap.WarnLevel)
	r := NewInvalidationRegistry(ctx, ev, InvalidationConfig{Workers: 1, QueueSize: 4, EvictTimeout: time.Minute}, zap.New(core).Sugar())
	require.NoError(t, r.Start())
	r.RegisterTrigger("Refund", "listRefunds")

	before := testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Refund", "dropped"))

	r.Flush("Refund")
	<-started
	r.Flush("Refund")
	r.Flush("Refund")

	cancel()
	stopWithin(t, r, 2*time.Second)

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("Refund", "dropped")))
	assert.Equal(t, 2, logs.FilterMessage("Cache invalidation dropped at shutdown").Len())
}

func TestValidateTriggerName(t *testing.T) {
	assert.NoError(t, ValidateTriggerName("listOrders"))
	assert.NoError(t, ValidateTriggerName("odd*name?"))
	assert.ErrorIs(t, ValidateTriggerName(""), ErrInvalidTriggerName)
	assert.ErrorIs(t, ValidateTriggerName("  "), ErrInvalidTriggerName)
	assert.ErrorIs(t, ValidateTriggerName("list:recent"), ErrInvalidTriggerName)
}

func TestInvalidation_RejectsTriggerWithSeparator(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ev := &recordingEvictor{}
	r := NewInvalidationRegistry(context.Background(), ev, DefaultInvalidationConfig(), zap.New(core).Sugar())
	require.NoError(t, r.Start())
	defer r.Stop()

	// "list:recent" would evict everything stored under "list"
	r.RegisterTrigger("Order", "list:recent")
	r.RegisterTrigger("Order", "listOrders")

	assert.Equal(t, 1, logs.FilterMessageSnippet("rejected").Len())
	assert.Equal(t, []string{"listOrders"}, r.TriggersFor("Order"))
	assert.Empty(t, r.Unresolved())

	r.Flush("Order")
	r.Wait()
	assert.Equal(t, [][]string{{"listOrders"}}, ev.Calls())
}

func TestInvalidation_ConcurrentRegisterAndFlush(t *testing.T) {
	ev := &recordingEvictor{}
	r := newTestInvalidation(t, ev, InvalidationConfig{Workers: 4, QueueSize: 1024, EvictTimeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.RegisterTrigger("Order", "listOrders")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Flush("Order")
			}
		}()
	}
	wg.Wait()
	r.Wait()

	for _, call := range ev.Calls() {
		assert.Equal(t, []string{"listOrders"}, call)
	}
}
