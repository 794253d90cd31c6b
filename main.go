package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"schema-doctor/cli"
	"schema-doctor/config"
	"schema-doctor/controllers"
	"schema-doctor/internal/database"
	"schema-doctor/internal/monitor"
	"schema-doctor/routes"
)

func main() {
	mode := flag.String("mode", "server", "Mode to run: 'server', 'check' or 'cli'")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	switch *mode {
	case "server":
		runServer(*configPath)
	case "check":
		runCheck(*configPath)
	case "cli":
		runCLI(*configPath)
	default:
		fmt.Printf("Unknown mode: %s\n", *mode)
		fmt.Println("Available modes: server, check, cli")
		os.Exit(1)
	}
}

func setup(configPath string) (*config.Config, *zap.Logger, *monitor.Monitor) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := database.NewPool(ctx, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}

	return cfg, logger, monitor.New(cfg, pool, logger)
}

func runServer(configPath string) {
	cfg, logger, mon := setup(configPath)
	defer logger.Sync()

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

// runCheck executes a single scan cycle and prints the report, for cron jobs
// and CI pipelines. Exit code 1 means critical issues were found.
func runCheck(configPath string) {
	_, logger, mon := setup(configPath)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := mon.RunScan(ctx)
	if err != nil {
		logger.Fatal("scan failed", zap.Error(err))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal("report encoding failed", zap.Error(err))
	}
	fmt.Println(string(out))

	if len(result.Critical) > 0 {
		os.Exit(1)
	}
}

func runCLI(configPath string) {
	_, logger, mon := setup(configPath)
	defer logger.Sync()

	repl := cli.NewREPL(mon)
	repl.Start()
}
