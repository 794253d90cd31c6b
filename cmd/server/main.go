package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"schema-doctor/config"
	"schema-doctor/controllers"
	"schema-doctor/internal/database"
	"schema-doctor/internal/monitor"
	"schema-doctor/routes"
)

// Server-only entrypoint for container deployments where the mode switch in
// the root binary is unwanted.
func main() {
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := database.NewPool(ctx, cfg.Database.URL, logger)
	cancel()
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}

	mon := monitor.New(cfg, pool, logger)

	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize controllers
	healthController := controllers.NewHealthController()
	healingController := controllers.NewHealingController(mon)

	// Setup routes
	routes.SetupRoutes(e, healthController, healingController)

	if err := mon.Start(); err != nil {
		logger.Fatal("monitor start failed", zap.Error(err))
	}
	defer mon.Stop()

	// Start server
	e.Logger.Fatal(e.Start(fmt.Sprintf(":%d", cfg.Server.Port)))
}
