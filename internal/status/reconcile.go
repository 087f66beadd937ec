// Package status derives display-only pipeline and table status from live
// task state. Derivation is pure: stored status is never authoritative,
// only the fallback when no live signal exists.
package status

import (
	"github.com/samber/lo"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// DeriveTableStatus maps the current task set onto one derived status.
// prior is the table's last stored status, returned unchanged when no
// tasks are visible (no live signal is not the same as paused).
//
// Tasks are tracked per connector, not per table, so every table of a
// pipeline shares the status derived from the union of source and sink
// tasks. That coarseness is product behavior, not an implementation gap.
func DeriveTableStatus(tasks []pipeline.Task, prior pipeline.TableStatus) pipeline.TableStatus {
	if len(tasks) == 0 {
		return prior
	}

	states := lo.Map(tasks, func(t pipeline.Task, _ int) string { return t.State })
	switch {
	case lo.Contains(states, pipeline.TaskFailed):
		return pipeline.TableError
	case lo.Contains(states, pipeline.TaskPaused):
		return pipeline.TablePaused
	case lo.EveryBy(states, func(s string) bool { return s == pipeline.TaskRunning }):
		return pipeline.TableStreaming
	default:
		// Mixed or unknown states: report paused rather than guessing.
		return pipeline.TablePaused
	}
}

// DerivePipelineState maps the same task policy onto the pipeline-level
// aggregate shown in summary views.
func DerivePipelineState(tasks []pipeline.Task, prior pipeline.State) pipeline.State {
	if len(tasks) == 0 {
		return prior
	}
	switch DeriveTableStatus(tasks, "") {
	case pipeline.TableError:
		return pipeline.StateError
	case pipeline.TablePaused:
		return pipeline.StatePaused
	default:
		return pipeline.StateRunning
	}
}
