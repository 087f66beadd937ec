package poller

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultBurstDelays are the delayed refresh offsets after a mutating
// command, counted from the command's completion.
var DefaultBurstDelays = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

// Burster converges the view on true external state after a mutating
// command: one immediate refresh plus a fixed burst of delayed refreshes,
// because the orchestration API acknowledges commands before the task has
// actually transitioned. Bounded and time-boxed; never an open-ended
// retry loop.
type Burster struct {
	poller  *StatusPoller
	clock   clock.Clock
	delays  []time.Duration
	metrics *Metrics
	log     *zap.Logger
}

// NewBurster builds a burst refresher. Empty delays fall back to the
// defaults.
func NewBurster(p *StatusPoller, clk clock.Clock, delays []time.Duration, metrics *Metrics, log *zap.Logger) *Burster {
	if clk == nil {
		clk = clock.New()
	}
	if len(delays) == 0 {
		delays = DefaultBurstDelays
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Burster{poller: p, clock: clk, delays: delays, metrics: metrics, log: log}
}

// Trigger runs the burst for a pipeline. The immediate refresh is
// explicit (the user just acted); the delayed ones are silent. The
// delayed refreshes run in the background and stop early if ctx ends.
func (b *Burster) Trigger(ctx context.Context, pipelineID string) {
	b.metrics.Bursts.Inc()
	b.poller.Refresh(ctx, pipelineID, false)

	go func() {
		elapsed := time.Duration(0)
		for _, delay := range b.delays {
			wait := delay - elapsed
			if wait < 0 {
				wait = 0
			}
			timer := b.clock.Timer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			elapsed = delay
			b.poller.Refresh(ctx, pipelineID, true)
		}
	}()
}
