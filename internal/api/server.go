// Package api is the dashboard-facing HTTP surface. Every response uses
// the {success, data|error} envelope; runtime state in responses is the
// derived view, never a stored truth.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pipewatch/pipewatch/internal/lifecycle"
	"github.com/pipewatch/pipewatch/internal/orchestration"
	"github.com/pipewatch/pipewatch/internal/poller"
	"github.com/pipewatch/pipewatch/internal/progress"
	"github.com/pipewatch/pipewatch/internal/resolver"
	"github.com/pipewatch/pipewatch/internal/status"
	"github.com/pipewatch/pipewatch/internal/store"
)

// Orchestrator is the command slice of the orchestration API the handlers
// need. *orchestration.Client implements it.
type Orchestrator interface {
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	RestartTask(ctx context.Context, name string, task int) error
	DeployPending(ctx context.Context, connectorID string) error
	ListTables(ctx context.Context, req orchestration.ListTablesRequest) ([]orchestration.DiscoveredTable, error)
}

// Server wires the engine's pieces behind gin handlers.
type Server struct {
	store     store.Store
	lifecycle *lifecycle.Manager
	resolver  *resolver.Resolver
	tracker   *progress.Tracker
	orch      Orchestrator
	views     *status.ViewModel
	poller    *poller.StatusPoller
	burster   *poller.Burster
	gatherer  prometheus.Gatherer
	log       *zap.Logger
}

func NewServer(st store.Store, lc *lifecycle.Manager, res *resolver.Resolver, tracker *progress.Tracker, orch Orchestrator, views *status.ViewModel, p *poller.StatusPoller, b *poller.Burster, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:     st,
		lifecycle: lc,
		resolver:  res,
		tracker:   tracker,
		orch:      orch,
		views:     views,
		poller:    p,
		burster:   b,
		gatherer:  gatherer,
		log:       log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/pipelines", s.listPipelines)
	v1.POST("/pipelines", s.createPipeline)
	v1.GET("/pipelines/:id", s.getPipeline)
	v1.GET("/pipelines/:id/status", s.getStatus)
	v1.POST("/pipelines/:id/refresh", s.refreshStatus)
	v1.GET("/pipelines/:id/tables", s.listTables)
	v1.POST("/pipelines/:id/tables/discover", s.discoverTables)
	v1.GET("/pipelines/:id/milestones", s.listMilestones)
	v1.POST("/pipelines/:id/pause", s.pausePipeline)
	v1.POST("/pipelines/:id/resume", s.resumePipeline)
	v1.POST("/pipelines/:id/tasks/:task/restart", s.restartTask)

	v1.GET("/connectors/:id/config", s.getConnectorConfig)
	v1.PUT("/connectors/:id/config", s.stageConfig)
	v1.GET("/connectors/:id/config/diff", s.diffConfig)
	v1.POST("/connectors/:id/config/deploy", s.deployConfig)
	v1.POST("/connectors/:id/config/dismiss", s.dismissConfig)
	v1.GET("/connectors/:id/deploys", s.listDeploys)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
