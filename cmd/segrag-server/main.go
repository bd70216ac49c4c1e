package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"segrag/internal/app"
	"segrag/internal/config"
	"segrag/internal/handler"
	"segrag/internal/logging"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/segrag/config.yaml if not provided)")
	flag.Parse()

	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		slog.Error("invalid log config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	info, err := a.Service.EnsureCollection(ctx)
	if err != nil {
		logger.Error("collection check failed", "error", err)
		a.Close()
		os.Exit(1)
	}

	server := fiber.New(fiber.Config{
		AppName:      "segrag",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.Pipeline.CallTimeoutSecs+30) * time.Second,
	})
	server.Use(recover.New())
	server.Use(fiberlogger.New())

	server.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":     "healthy",
			"collection": info.Name,
			"embedder":   a.Service.Embedder().Name(),
		})
	})
	api := server.Group("/api/v1")
	handler.NewSegmentHandler(a.Service).Register(api)

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", cfg.Server.Addr, "collection", info.Name, "points", info.PointsCount)
	if err := server.Listen(cfg.Server.Addr); err != nil {
		logger.Error("server failed", "error", err)
		a.Close()
		os.Exit(1)
	}
}
