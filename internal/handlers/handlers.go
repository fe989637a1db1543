package handlers

import (
	"github.com/gin-gonic/gin"

	"invoice-relay-go/internal/scheduler"
	"invoice-relay-go/internal/store"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	scheduler *scheduler.Scheduler
	store     *store.Store // nil when the archive is disabled
}

// NewHandlers creates new HTTP handlers
func NewHandlers(s *scheduler.Scheduler, st *store.Store) *Handlers {
	return &Handlers{scheduler: s, store: st}
}

// SetupRoutes registers all routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)

	sched := router.Group("/scheduler")
	{
		sched.POST("/start", h.StartScheduler)
		sched.POST("/stop", h.StopScheduler)
		sched.POST("/run", h.RunOnce)
		sched.GET("/status", h.GetSchedulerStatus)
	}

	router.GET("/runs/rows", h.GetArchivedRows)
}
