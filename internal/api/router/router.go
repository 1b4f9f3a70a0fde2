package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/completion-relay/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	healthHandler := handler.NewHealthHandler("completion-api-service", deps)
	r.GET("/health", healthHandler.Health)

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/completions - Queue a streamed completion
		v1.POST("/completions", jobHandler.SubmitCompletion)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List ledger records with pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get a ledger record
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/stream - Relay chunks over a websocket
			jobs.GET("/:job_id/stream", jobHandler.StreamJob)
		}
	}

	return r
}
