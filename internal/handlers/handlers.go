package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/max-delvita/scheduler-v4/internal/nudge"
	"github.com/max-delvita/scheduler-v4/internal/repository"
	"github.com/max-delvita/scheduler-v4/internal/scheduler"
	"github.com/max-delvita/scheduler-v4/internal/workflow"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	repo      repository.SessionRepository
	workflow  *workflow.Workflow
	sweeper   *nudge.Sweeper
	scheduler *scheduler.Scheduler
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, repo repository.SessionRepository, wf *workflow.Workflow,
	sweeper *nudge.Sweeper, sched *scheduler.Scheduler) *Handlers {
	return &Handlers{db: db, repo: repo, workflow: wf, sweeper: sweeper, scheduler: sched}
}

// SetupRoutes registers all routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.POST("/webhook/inbound", h.InboundWebhook)
	router.POST("/nudge/run", h.RunNudgeSweep)
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/messages", h.GetSessionMessages)
		api.GET("/quarantine", h.GetQuarantine)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run", h.RunSchedulerOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
