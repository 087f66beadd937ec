package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pipewatch/pipewatch/internal/orchestration"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

type createConnectorRequest struct {
	Name           string          `json:"name" binding:"required"`
	ConnectorClass string          `json:"connector_class"`
	TasksMax       int             `json:"tasks_max"`
	Config         pipeline.Config `json:"config" binding:"required"`
}

type createPipelineRequest struct {
	Name            string                  `json:"name" binding:"required"`
	SourceType      string                  `json:"source_type"`
	DestinationType string                  `json:"destination_type"`
	Source          *createConnectorRequest `json:"source"`
	Sink            *createConnectorRequest `json:"sink"`
}

func (s *Server) createPipeline(c *gin.Context) {
	var req createPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	p, err := s.store.CreatePipeline(c, pipeline.Pipeline{
		Name:            req.Name,
		SourceType:      req.SourceType,
		DestinationType: req.DestinationType,
		State:           pipeline.StateDraft,
	})
	if err != nil {
		fail(c, err)
		return
	}

	for _, pair := range []struct {
		req *createConnectorRequest
		typ pipeline.ConnectorType
	}{{req.Source, pipeline.ConnectorSource}, {req.Sink, pipeline.ConnectorSink}} {
		if pair.req == nil {
			continue
		}
		if len(pair.req.Config) == 0 {
			badRequest(c, string(pair.typ)+" connector: "+pipeline.ErrEmptyConfig.Error())
			return
		}
		if _, err := s.store.CreateConnector(c, pipeline.Connector{
			PipelineID:     p.ID,
			Name:           pair.req.Name,
			Type:           pair.typ,
			ConnectorClass: pair.req.ConnectorClass,
			TasksMax:       pair.req.TasksMax,
			Config:         pair.req.Config,
		}); err != nil {
			fail(c, err)
			return
		}
	}

	p, err = s.store.GetPipeline(c, p.ID)
	if err != nil {
		fail(c, err)
		return
	}
	s.watch(c, p)
	respond(c, http.StatusCreated, s.toPipelineDTO(c, p))
}

func (s *Server) listPipelines(c *gin.Context) {
	pipelines, err := s.store.ListPipelines(c)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, lo.Map(pipelines, func(p pipeline.Pipeline, _ int) pipelineDTO {
		return s.toPipelineDTO(c, p)
	}))
}

func (s *Server) getPipeline(c *gin.Context) {
	p, err := s.store.GetPipeline(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, s.toPipelineDTO(c, p))
}

func (s *Server) getStatus(c *gin.Context) {
	id := c.Param("id")
	if view, ok := s.views.Get(id); ok {
		respond(c, http.StatusOK, toRuntimeDTO(view))
		return
	}
	view, applied := s.poller.Refresh(c, id, false)
	if !applied {
		notFound(c, "pipeline is not being watched")
		return
	}
	respond(c, http.StatusOK, toRuntimeDTO(view))
}

func (s *Server) refreshStatus(c *gin.Context) {
	view, applied := s.poller.Refresh(c, c.Param("id"), false)
	if !applied {
		notFound(c, "pipeline is not being watched")
		return
	}
	respond(c, http.StatusOK, toRuntimeDTO(view))
}

func (s *Server) listTables(c *gin.Context) {
	id := c.Param("id")
	tables, err := s.store.ListTables(c, id)
	if err != nil {
		fail(c, err)
		return
	}

	// Live derived status supersedes the persisted fallback when a fresh
	// view exists; all tables of a pipeline share it.
	live, haveLive := s.views.Get(id)
	respond(c, http.StatusOK, lo.Map(tables, func(t pipeline.Table, _ int) tableDTO {
		dto := tableDTO{
			ID:               t.ID,
			SchemaName:       t.SchemaName,
			TableName:        t.TableName,
			Included:         t.Included,
			SourceTopic:      t.SourceTopic,
			DestinationTable: t.DestinationTable,
			RowCount:         t.RowCount,
			SizeEstimate:     t.SizeEstimate,
			Status:           t.Status,
		}
		if haveLive && live.TableStatus != "" {
			dto.Status = live.TableStatus
		}
		return dto
	}))
}

func (s *Server) discoverTables(c *gin.Context) {
	var req orchestration.ListTablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.SourceType == "" {
		badRequest(c, "source_type is required")
		return
	}

	discovered, err := s.orch.ListTables(c, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, discovered)
}

func (s *Server) listMilestones(c *gin.Context) {
	milestones, err := s.tracker.Milestones(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, lo.Map(milestones, func(m pipeline.Milestone, _ int) milestoneDTO {
		return milestoneDTO{Name: m.Name, Status: m.Status, Metadata: m.Metadata}
	}))
}

// pausePipeline pauses the source connector's tasks. The sink keeps
// draining whatever is already staged; pausing capture is what stops the
// pipeline. A burst refresh converges the view on the transition.
func (s *Server) pausePipeline(c *gin.Context) {
	s.command(c, func(p pipeline.Pipeline) error {
		return s.orch.Pause(c, p.Source.Name)
	})
}

func (s *Server) resumePipeline(c *gin.Context) {
	s.command(c, func(p pipeline.Pipeline) error {
		return s.orch.Resume(c, p.Source.Name)
	})
}

func (s *Server) restartTask(c *gin.Context) {
	task, err := strconv.Atoi(c.Param("task"))
	if err != nil || task < 0 {
		badRequest(c, "task must be a non-negative integer")
		return
	}
	s.command(c, func(p pipeline.Pipeline) error {
		name := p.Source.Name
		if c.Query("connector") == string(pipeline.ConnectorSink) {
			if p.Sink == nil {
				return pipeline.ErrNotFound
			}
			name = p.Sink.Name
		}
		return s.orch.RestartTask(c, name, task)
	})
}

// command runs an orchestration command for a pipeline and triggers the
// burst refresh. The command's acknowledgement does not mean the tasks
// have transitioned; the response carries the immediate post-command
// view and the delayed polls converge it.
func (s *Server) command(c *gin.Context, run func(pipeline.Pipeline) error) {
	p, err := s.store.GetPipeline(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if p.Source == nil {
		badRequest(c, "pipeline has no source connector")
		return
	}

	if err := run(p); err != nil {
		fail(c, err)
		return
	}

	// Detached context: the delayed burst polls outlive the request.
	s.burster.Trigger(context.WithoutCancel(c.Request.Context()), p.ID)
	if view, ok := s.views.Get(p.ID); ok {
		respond(c, http.StatusOK, toRuntimeDTO(view))
		return
	}
	respond(c, http.StatusOK, nil)
}

// watch registers the pipeline's connectors with the status poller.
func (s *Server) watch(c *gin.Context, p pipeline.Pipeline) {
	var source, sink string
	if p.Source != nil {
		source = p.Source.Name
	}
	if p.Sink != nil {
		sink = p.Sink.Name
	}
	if source == "" && sink == "" {
		return
	}
	s.poller.Watch(context.WithoutCancel(c.Request.Context()), p.ID, source, sink)
	s.log.Info("watching pipeline", zap.String("pipeline", p.ID), zap.String("source", source), zap.String("sink", sink))
}
