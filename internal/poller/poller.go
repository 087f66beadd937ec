package poller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/pipewatch/pipewatch/internal/orchestration"
	"github.com/pipewatch/pipewatch/internal/status"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// ConcernConnectorStatus is the polling concern for live task state.
const ConcernConnectorStatus = "connector-status"

// TaskFetcher reads live connector status. *orchestration.Client
// implements it.
type TaskFetcher interface {
	Status(ctx context.Context, name string) (orchestration.ConnectorStatus, error)
}

// StatusWriter persists the derived status fallback. *store.PostgresStore
// and *store.MemoryStore implement it.
type StatusWriter interface {
	SetTableStatuses(ctx context.Context, pipelineID string, status pipeline.TableStatus) error
}

type watch struct {
	pipelineID string
	sourceName string
	sinkName   string
}

// StatusPoller periodically reads source and sink task state for watched
// pipelines and folds the snapshots into the shared view model.
type StatusPoller struct {
	fetch    TaskFetcher
	views    *status.ViewModel
	registry *Registry
	writer   StatusWriter // optional
	clock    clock.Clock
	interval time.Duration
	metrics  *Metrics
	log      *zap.Logger

	mu      sync.Mutex
	watched map[string]watch
}

// NewStatusPoller builds a poller. writer may be nil when derived status
// should not be persisted as a fallback.
func NewStatusPoller(fetch TaskFetcher, views *status.ViewModel, registry *Registry, writer StatusWriter, clk clock.Clock, interval time.Duration, metrics *Metrics, log *zap.Logger) *StatusPoller {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StatusPoller{
		fetch:    fetch,
		views:    views,
		registry: registry,
		writer:   writer,
		clock:    clk,
		interval: interval,
		metrics:  metrics,
		log:      log,
		watched:  make(map[string]watch),
	}
}

// Watch starts the periodic status loop for a pipeline's connector pair.
// Timer-triggered refreshes are silent: they never reset visible loading
// state.
func (p *StatusPoller) Watch(ctx context.Context, pipelineID, sourceName, sinkName string) {
	p.mu.Lock()
	p.watched[pipelineID] = watch{pipelineID: pipelineID, sourceName: sourceName, sinkName: sinkName}
	p.mu.Unlock()

	key := Key{Concern: ConcernConnectorStatus, PipelineID: pipelineID}
	p.registry.Start(ctx, key, p.interval, func(loopCtx context.Context) {
		p.Refresh(loopCtx, pipelineID, true)
	})
}

// Unwatch stops the loop and drops the pipeline's view.
func (p *StatusPoller) Unwatch(pipelineID string) {
	p.registry.Stop(Key{Concern: ConcernConnectorStatus, PipelineID: pipelineID})
	p.mu.Lock()
	delete(p.watched, pipelineID)
	p.mu.Unlock()
	p.views.Drop(pipelineID)
}

// Refresh issues one poll. The sequence number is assigned before the
// fetch so a slow response cannot overwrite a newer one. A side whose
// fetch fails keeps its last-known task list in the view and marks it
// stale, even when the other side answered.
func (p *StatusPoller) Refresh(ctx context.Context, pipelineID string, silent bool) (status.View, bool) {
	p.mu.Lock()
	w, ok := p.watched[pipelineID]
	p.mu.Unlock()
	if !ok {
		return status.View{}, false
	}

	seq := p.views.NextSeq()
	p.metrics.Polls.WithLabelValues(ConcernConnectorStatus).Inc()

	snap := status.Snapshot{
		Seq:        seq,
		PipelineID: pipelineID,
		Silent:     silent,
		ObservedAt: p.clock.Now(),
	}
	snap.SourceTasks, snap.SourceOK = p.fetchTasks(ctx, w.sourceName)
	snap.SinkTasks, snap.SinkOK = p.fetchTasks(ctx, w.sinkName)

	view, applied := p.views.Apply(snap)
	if applied && !view.Stale && p.writer != nil {
		if err := p.writer.SetTableStatuses(ctx, pipelineID, view.TableStatus); err != nil {
			p.log.Warn("persist table status fallback failed",
				zap.String("pipeline", pipelineID), zap.Error(err))
		}
	}
	return view, applied
}

// fetchTasks reports ok=false only on fetch failure; an unset connector
// name legitimately has no tasks.
func (p *StatusPoller) fetchTasks(ctx context.Context, name string) ([]pipeline.Task, bool) {
	if name == "" {
		return nil, true
	}
	connStatus, err := p.fetch.Status(ctx, name)
	if err != nil {
		p.metrics.PollFailures.WithLabelValues(ConcernConnectorStatus).Inc()
		p.log.Debug("status poll failed, keeping last-known tasks",
			zap.String("connector", name), zap.Error(err))
		return nil, false
	}
	return connStatus.TaskList(), true
}
