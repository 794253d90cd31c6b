package routes

import (
	"github.com/labstack/echo/v4"

	"schema-doctor/controllers"
)

func SetupRoutes(e *echo.Echo, healthController *controllers.HealthController, healingController *controllers.HealingController) {
	// Health check route
	e.GET("/health", healthController.HealthCheck)

	// API routes
	api := e.Group("/api")

	api.GET("/status", healingController.Status)
	api.POST("/check", healingController.Check)
	api.POST("/start", healingController.Start)
	api.POST("/stop", healingController.Stop)
	api.GET("/issues", healingController.Issues)
	api.POST("/preview-fix", healingController.PreviewFix)
	api.POST("/fix", healingController.Fix)
}
