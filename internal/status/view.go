package status

import (
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// Snapshot is one observed task set for a pipeline. Seq is assigned when
// the poll is issued, so a slow response carries the sequence of its
// request, not of its arrival.
type Snapshot struct {
	Seq         uint64
	PipelineID  string
	SourceTasks []pipeline.Task
	SinkTasks   []pipeline.Task
	// SourceOK and SinkOK report whether each side's fetch succeeded. A
	// failed side keeps its last-known tasks when the snapshot is applied,
	// even if the other side answered.
	SourceOK bool
	SinkOK   bool
	// Silent marks timer-triggered refreshes, which must not reset any
	// visible loading state; explicit (user-triggered) refreshes may.
	Silent     bool
	ObservedAt time.Time
}

// View is the per-pipeline derived runtime view the dashboard reads.
type View struct {
	PipelineID  string
	Seq         uint64
	TableStatus pipeline.TableStatus
	State       pipeline.State
	SourceTasks []pipeline.Task
	SinkTasks   []pipeline.Task
	ObservedAt  time.Time
	Stale       bool
}

// ViewModel holds the latest applied view per pipeline. Concurrent polls
// of the same pipeline are neither queued nor cancelled; ordering is
// repaired here by discarding responses older than the last applied one.
type ViewModel struct {
	mu      sync.Mutex
	nextSeq uint64
	views   map[string]View
}

func NewViewModel() *ViewModel {
	return &ViewModel{views: make(map[string]View)}
}

// NextSeq reserves a sequence number for a poll about to be issued.
func (m *ViewModel) NextSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	return m.nextSeq
}

// Apply folds a snapshot into the view, deriving statuses from its tasks.
// It returns false when the snapshot is older than the applied view, in
// which case nothing changes. A failed side keeps that side's last-known
// tasks and marks the view stale; a fully empty task set keeps the
// previous derived statuses (stale-but-available) as well.
func (m *ViewModel) Apply(snap Snapshot) (View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.views[snap.PipelineID]
	if ok && snap.Seq <= current.Seq {
		return current, false
	}

	src, snk := snap.SourceTasks, snap.SinkTasks
	if !snap.SourceOK {
		src = current.SourceTasks
	}
	if !snap.SinkOK {
		snk = current.SinkTasks
	}
	tasks := make([]pipeline.Task, 0, len(src)+len(snk))
	tasks = append(tasks, src...)
	tasks = append(tasks, snk...)

	next := View{
		PipelineID:  snap.PipelineID,
		Seq:         snap.Seq,
		TableStatus: DeriveTableStatus(tasks, current.TableStatus),
		State:       DerivePipelineState(tasks, current.State),
		SourceTasks: src,
		SinkTasks:   snk,
		ObservedAt:  snap.ObservedAt,
		Stale:       !snap.SourceOK || !snap.SinkOK || len(tasks) == 0,
	}
	if len(tasks) == 0 && ok {
		// Keep showing the last-known tasks instead of flashing empty.
		next.SourceTasks = current.SourceTasks
		next.SinkTasks = current.SinkTasks
	}
	m.views[snap.PipelineID] = next
	return next, true
}

// Get returns the current view for a pipeline.
func (m *ViewModel) Get(pipelineID string) (View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[pipelineID]
	return v, ok
}

// Drop removes a pipeline's view on teardown.
func (m *ViewModel) Drop(pipelineID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, pipelineID)
}
