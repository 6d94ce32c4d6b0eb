package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cuongbtq/vault-pipeline/internal/api/handler"
)

// Options tweak router construction
type Options struct {
	// Tracing adds a server span per request
	Tracing bool
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	if opts.Tracing {
		r.Use(otelgin.Middleware(deps.ServiceName))
	}
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": deps.ServiceName,
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":           "healthy",
			"service":          deps.ServiceName,
			"pipeline_enabled": deps.Jobs.Enabled(),
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	retentionHandler := handler.NewRetentionHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit content for processing
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job status
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		contents := v1.Group("/contents")
		{
			// POST /api/v1/contents/reprocess - Queue many content items for reprocessing
			contents.POST("/reprocess", jobHandler.BulkReprocess)

			// POST /api/v1/contents/:content_id/reprocess - Reprocess one content item
			contents.POST("/:content_id/reprocess", jobHandler.ReprocessContent)
		}

		// POST /api/v1/retention/purge - Run the retention sweep now
		v1.POST("/retention/purge", retentionHandler.Purge)
	}

	return r
}
