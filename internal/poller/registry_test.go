package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegistryRunsOnInterval(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock, nil)
	defer reg.StopAll()

	var runs atomic.Int64
	key := Key{Concern: "test", PipelineID: "p1"}
	reg.Start(context.Background(), key, 10*time.Second, func(context.Context) {
		runs.Add(1)
	})

	// First run fires immediately, before any tick.
	waitFor(t, "immediate run", func() bool { return runs.Load() == 1 })

	mock.Add(10 * time.Second)
	waitFor(t, "second run", func() bool { return runs.Load() == 2 })
	mock.Add(10 * time.Second)
	waitFor(t, "third run", func() bool { return runs.Load() == 3 })
}

func TestRegistryStopHaltsLoop(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock, nil)

	var runs atomic.Int64
	key := Key{Concern: "test", PipelineID: "p1"}
	reg.Start(context.Background(), key, time.Second, func(context.Context) {
		runs.Add(1)
	})
	waitFor(t, "immediate run", func() bool { return runs.Load() == 1 })

	reg.Stop(key)
	if reg.Active(key) {
		t.Fatal("key still active after stop")
	}
	before := runs.Load()
	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if runs.Load() != before {
		t.Fatalf("loop ran after stop: %d -> %d", before, runs.Load())
	}
}

func TestRegistryIndependentKeys(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock, nil)
	defer reg.StopAll()

	var fast, slow atomic.Int64
	reg.Start(context.Background(), Key{Concern: "status", PipelineID: "p1"}, time.Second, func(context.Context) { fast.Add(1) })
	reg.Start(context.Background(), Key{Concern: "logs", PipelineID: "p1"}, 5*time.Second, func(context.Context) { slow.Add(1) })
	waitFor(t, "initial runs", func() bool { return fast.Load() == 1 && slow.Load() == 1 })

	for i := 0; i < 5; i++ {
		mock.Add(time.Second)
		waitFor(t, "fast tick", func() bool { return fast.Load() == int64(i+2) })
	}
	waitFor(t, "slow tick", func() bool { return slow.Load() == 2 })
}

func TestRegistryStopPipelineTeardown(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock, nil)
	defer reg.StopAll()

	run := func(context.Context) {}
	reg.Start(context.Background(), Key{Concern: "status", PipelineID: "p1"}, time.Second, run)
	reg.Start(context.Background(), Key{Concern: "logs", PipelineID: "p1"}, time.Second, run)
	reg.Start(context.Background(), Key{Concern: "status", PipelineID: "p2"}, time.Second, run)

	reg.StopPipeline("p1")
	if reg.Len() != 1 {
		t.Fatalf("expected only p2 left, got %d loops", reg.Len())
	}
	if !reg.Active(Key{Concern: "status", PipelineID: "p2"}) {
		t.Fatal("unrelated pipeline loop was stopped")
	}

	reg.StopAll()
	if reg.Len() != 0 {
		t.Fatalf("leaked loops after StopAll: %d", reg.Len())
	}
}

func TestRegistryConcurrentStartsLeaveOneLoop(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock, nil)
	defer reg.StopAll()

	var runs atomic.Int64
	key := Key{Concern: "status", PipelineID: "p1"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Start(context.Background(), key, time.Second, func(context.Context) { runs.Add(1) })
		}()
	}
	wg.Wait()

	if reg.Len() != 1 {
		t.Fatalf("expected exactly one loop, got %d", reg.Len())
	}

	// Exactly one loop may tick; an orphaned survivor would tick too.
	time.Sleep(10 * time.Millisecond)
	before := runs.Load()
	mock.Add(time.Second)
	waitFor(t, "surviving loop tick", func() bool { return runs.Load() >= before+1 })
	time.Sleep(10 * time.Millisecond)
	if runs.Load() != before+1 {
		t.Fatalf("orphaned loop kept running: %d extra runs", runs.Load()-before)
	}

	reg.Stop(key)
	if reg.Len() != 0 {
		t.Fatalf("leaked loops after stop: %d", reg.Len())
	}
}

func TestRegistryRestartReplacesLoop(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock, nil)
	defer reg.StopAll()

	var first, second atomic.Int64
	key := Key{Concern: "status", PipelineID: "p1"}
	reg.Start(context.Background(), key, time.Second, func(context.Context) { first.Add(1) })
	waitFor(t, "first loop", func() bool { return first.Load() == 1 })

	reg.Start(context.Background(), key, time.Second, func(context.Context) { second.Add(1) })
	waitFor(t, "second loop", func() bool { return second.Load() == 1 })

	got := first.Load()
	for i := 0; i < 3; i++ {
		mock.Add(time.Second)
		waitFor(t, "second loop tick", func() bool { return second.Load() == int64(i+2) })
	}
	if first.Load() != got {
		t.Fatal("replaced loop kept running")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 loop, got %d", reg.Len())
	}
}
