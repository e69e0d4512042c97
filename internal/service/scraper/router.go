package scraper

import (
	"scrapeflow/internal/pkg/config"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers scraping API routes
func RegisterRoutes(e *echo.Echo, handler *Handler, tokens *TokenService, cfg *config.Config) {
	// Public routes
	e.GET("/health", handler.GetHealth)
	e.POST("/api/v1/auth/token", handler.IssueToken)

	// Protected routes
	api := e.Group("/api/v1")
	api.Use(JWTMiddleware(tokens, cfg))

	api.POST("/tasks", handler.SubmitTask)
	api.POST("/tasks/bulk", handler.SubmitBulk)
	api.GET("/tasks/:id", handler.GetTask)
	api.DELETE("/tasks/:id", handler.CancelTask)

	api.GET("/engine/status", handler.GetEngineStatus)
	api.GET("/engine/metrics", handler.GetMetrics)
	api.POST("/engine/pause", handler.PauseEngine)
	api.POST("/engine/resume", handler.ResumeEngine)
}
