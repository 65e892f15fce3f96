package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "annotation-gateway",
		})
	})

	handler := NewAnnotationHandler(deps)

	// GET /annotate - mint an upload target for a new input file
	r.GET("/annotate", handler.NewUploadTarget)

	// GET /annotate/job - upload-complete redirect, fires the job
	r.GET("/annotate/job", handler.CreateAnnotationJob)

	// GET /annotations - list the user's jobs
	r.GET("/annotations", handler.ListAnnotations)

	// GET /annotations/:job_id - job details
	r.GET("/annotations/:job_id", handler.GetAnnotation)

	// POST /subscribe - upgrade tier and restore archived results
	r.POST("/subscribe", handler.Subscribe)

	return r
}
