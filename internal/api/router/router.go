package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobpulse/internal/api/handler"
	"github.com/cuongbtq/jobpulse/internal/metrics"
)

// Options toggles the optional surfaces of the router
type Options struct {
	ServiceName string
	MetricsPath string // empty disables /metrics
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "jobpulse-api"
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "healthy",
			"service":    serviceName,
			"live_users": len(deps.Registry.Users()),
		})
	})

	if opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	jobHandler := handler.NewJobHandler(deps)
	deadLetterHandler := handler.NewDeadLetterHandler(deps)
	sweepHandler := handler.NewSweepHandler(deps)
	streamHandler := handler.NewStreamHandler(deps)
	wsHandler := handler.NewWSHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		deadLetters := v1.Group("/dead-letters")
		{
			deadLetters.GET("", deadLetterHandler.ListDeadLetters)
			deadLetters.GET("/:id", deadLetterHandler.GetDeadLetter)
		}

		events := v1.Group("/events")
		{
			// GET /api/v1/events - NDJSON live updates
			events.GET("", streamHandler.Stream)

			// GET /api/v1/events/ws - WebSocket live updates
			events.GET("/ws", wsHandler.Serve)
		}

		internal := v1.Group("/internal")
		{
			internal.GET("/sweep", sweepHandler.Sweep)
			internal.POST("/sweep", sweepHandler.Sweep)
		}
	}

	return r
}
