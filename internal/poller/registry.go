// Package poller schedules the periodic reads of live task state and the
// bounded burst refreshes that follow every mutating command.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Key identifies one scheduled polling concern. Each (concern, pipeline)
// pair runs its own independent, unsynchronized timer.
type Key struct {
	Concern    string
	PipelineID string
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns all periodic polling loops. The clock is injected so
// tests advance virtual time instead of sleeping.
type Registry struct {
	clock clock.Clock
	log   *zap.Logger

	mu    sync.Mutex
	tasks map[Key]*entry
}

// NewRegistry builds a registry. clk may be nil for the wall clock.
func NewRegistry(clk clock.Clock, log *zap.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		clock: clk,
		log:   log,
		tasks: make(map[Key]*entry),
	}
}

// Start schedules run at the given interval until Stop or ctx ends. The
// first run fires immediately. Starting an already-running key restarts
// it with the new interval and function. The map swap happens under the
// lock, so concurrent Starts for one key never orphan a loop: each
// displaced entry is cancelled by exactly one caller.
func (r *Registry) Start(ctx context.Context, key Key, interval time.Duration, run func(context.Context)) {
	loopCtx, cancel := context.WithCancel(ctx)
	e := &entry{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.tasks[key]
	r.tasks[key] = e
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	go func() {
		defer close(e.done)
		defer cancel()

		run(loopCtx)
		ticker := r.clock.Ticker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				run(loopCtx)
			}
		}
	}()
}

// Stop cancels one scheduled key and waits for its loop to exit.
func (r *Registry) Stop(key Key) {
	r.mu.Lock()
	e, ok := r.tasks[key]
	if ok {
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	<-e.done
}

// StopPipeline cancels every concern for one pipeline, for view teardown.
func (r *Registry) StopPipeline(pipelineID string) {
	r.mu.Lock()
	keys := make([]Key, 0)
	for key := range r.tasks {
		if key.PipelineID == pipelineID {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()
	for _, key := range keys {
		r.Stop(key)
	}
}

// StopAll cancels everything. Leaked timers after teardown are a bug this
// method exists to prevent.
func (r *Registry) StopAll() {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.tasks))
	for key := range r.tasks {
		keys = append(keys, key)
	}
	r.mu.Unlock()
	for _, key := range keys {
		r.Stop(key)
	}
}

// Active reports whether a key currently has a scheduled loop.
func (r *Registry) Active(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

// Len returns the number of scheduled loops.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
