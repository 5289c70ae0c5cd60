package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/adops-go/internal/api/handlers"
	"github.com/leadpilot/adops-go/internal/database"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
}

type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Handlers bundles the HTTP handlers wired into the router.
type Handlers struct {
	Optimizer     *handlers.OptimizerHandler
	CrossPlatform *handlers.CrossPlatformHandler
	Experiments   *handlers.ExperimentHandler
}

func SetupRoutes(router *gin.Engine, db *database.PostgresDB, redis *database.RedisClient, h Handlers) {
	// Health check endpoint
	router.GET("/health", healthCheck(db, redis))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Campaign budget optimization
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("/:id/optimize", h.Optimizer.OptimizeCampaign)
			campaigns.POST("/:id/budgets/apply", h.Optimizer.ApplyCampaignBudgets)
		}

		// Cross-platform allocation per persona
		personas := v1.Group("/personas")
		{
			personas.POST("/:id/allocation", h.CrossPlatform.OptimizePersona)
			personas.GET("/:id/allocation/latest", h.CrossPlatform.LatestRecommendation)
			personas.POST("/:id/allocation/apply", h.CrossPlatform.ApplyPersonaBudgets)
		}

		// Experiment lifecycle
		experiments := v1.Group("/experiments")
		{
			experiments.POST("", h.Experiments.CreateExperiment)
			experiments.GET("/:id", h.Experiments.GetExperiment)
			experiments.POST("/:id/start", h.Experiments.StartExperiment)
			experiments.GET("/:id/analysis", h.Experiments.AnalyzeExperiment)
			experiments.GET("/:id/stopping", h.Experiments.CheckStoppingRules)
			experiments.POST("/:id/stop", h.Experiments.StopExperiment)
			experiments.POST("/:id/complete", h.Experiments.CompleteExperiment)
		}

		// Batch stopping-rule pass over every running experiment
		v1.POST("/experiment-checks", h.Experiments.RunChecks)
	}
}

func healthCheck(db *database.PostgresDB, redis *database.RedisClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Services: Services{
				Database: "ok",
				Redis:    "ok",
			},
		}

		if err := db.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Database = "error"
			response.Status = "degraded"
		}

		if err := redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Redis = "error"
			response.Status = "degraded"
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
