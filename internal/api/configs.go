package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// getConnectorConfig returns the resolved, masked configuration with its
// source of truth. Secrets never leave this process unmasked.
func (s *Server) getConnectorConfig(c *gin.Context) {
	conn, err := s.store.GetConnector(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	res := s.resolver.Resolve(c, &conn)
	respond(c, http.StatusOK, s.toConnectorDTO(res, conn))
}

type stageRequest struct {
	Config pipeline.Config `json:"config" binding:"required"`
	Author string          `json:"author"`
}

func (s *Server) stageConfig(c *gin.Context) {
	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	conn, err := s.lifecycle.Stage(c, c.Param("id"), req.Config, req.Author)
	if err != nil {
		fail(c, err)
		return
	}
	res := s.resolver.Resolve(c, &conn)
	respond(c, http.StatusOK, s.toConnectorDTO(res, conn))
}

func (s *Server) diffConfig(c *gin.Context) {
	entries, err := s.lifecycle.Diff(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, toDiffDTOs(entries))
}

type deployRequest struct {
	Author string `json:"author"`
}

// deployConfig promotes the staged draft: registry version, connector
// ref, audit record, pending cleared. The orchestrator is then told to
// pick up the new config; a failure there is logged, not surfaced,
// because the deploy itself is already committed.
func (s *Server) deployConfig(c *gin.Context) {
	var req deployRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	connectorID := c.Param("id")
	audit, err := s.lifecycle.Deploy(c, connectorID, req.Author)
	if err != nil {
		fail(c, err)
		return
	}

	if err := s.orch.DeployPending(c, connectorID); err != nil {
		s.log.Warn("orchestrator deploy notification failed",
			zap.String("connector", connectorID), zap.Error(err))
	}

	if conn, err := s.store.GetConnector(c, connectorID); err == nil {
		s.burster.Trigger(context.WithoutCancel(c.Request.Context()), conn.PipelineID)
	}

	respond(c, http.StatusOK, toAuditDTO(audit))
}

func (s *Server) dismissConfig(c *gin.Context) {
	if err := s.lifecycle.Dismiss(c, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	conn, err := s.store.GetConnector(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	res := s.resolver.Resolve(c, &conn)
	respond(c, http.StatusOK, s.toConnectorDTO(res, conn))
}

func (s *Server) listDeploys(c *gin.Context) {
	audits, err := s.store.ListDeploys(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, lo.Map(audits, func(a store.DeployAudit, _ int) deployAuditDTO {
		return toAuditDTO(a)
	}))
}
