// Package progress projects append-only milestone events into the
// fixed-order bootstrap checklist shown for a starting pipeline.
package progress

import (
	"context"

	"github.com/samber/lo"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// EventSource reads the recorded milestone events for a pipeline.
// Any store.Store satisfies it.
type EventSource interface {
	ListMilestoneEvents(ctx context.Context, pipelineID string) ([]pipeline.MilestoneEvent, error)
}

// Project folds events into one milestone per known name, in display
// order. The latest event per name wins regardless of arrival order;
// names with no events are pending. Milestones do not gate each other:
// a later one may complete while an earlier one is still in progress.
func Project(events []pipeline.MilestoneEvent) []pipeline.Milestone {
	latest := make(map[pipeline.MilestoneName]pipeline.MilestoneEvent, len(pipeline.MilestoneOrder))
	for _, ev := range events {
		prev, ok := latest[ev.Name]
		if !ok || !ev.RecordedAt.Before(prev.RecordedAt) {
			latest[ev.Name] = ev
		}
	}

	return lo.Map(pipeline.MilestoneOrder, func(name pipeline.MilestoneName, _ int) pipeline.Milestone {
		ev, ok := latest[name]
		if !ok {
			return pipeline.Milestone{Name: name, Status: pipeline.MilestonePending}
		}
		return pipeline.Milestone{Name: name, Status: ev.Status, Metadata: ev.Metadata}
	})
}

// Tracker serves projected milestones straight from the event store.
type Tracker struct {
	events EventSource
}

func NewTracker(events EventSource) *Tracker {
	return &Tracker{events: events}
}

// Milestones returns the pipeline's projected checklist. Unknown
// pipelines come back all-pending, not as an error: the checklist is a
// display concern and an empty event log is a valid state.
func (t *Tracker) Milestones(ctx context.Context, pipelineID string) ([]pipeline.Milestone, error) {
	events, err := t.events.ListMilestoneEvents(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	return Project(events), nil
}
