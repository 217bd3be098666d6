package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"retrieval-orchestrator/internal/adapter/httpapi"
	"retrieval-orchestrator/internal/di"
	"retrieval-orchestrator/internal/infra"
	"retrieval-orchestrator/internal/infra/config"
	"retrieval-orchestrator/internal/infra/logger"
)

func main() {
	cfg := config.Load()

	log := logger.NewWithOTel(cfg.OTel.LogsEnabled)
	slog.SetDefault(log)

	dbPool, err := infra.NewPostgresDB(context.Background(), cfg.DB.DSN(), infra.PoolConfig{
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		log.Error("failed to connect to db", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbPool.Close()

	components := di.NewApplicationComponents(cfg, dbPool, log)

	components.Worker.Start()
	defer components.Worker.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handler := httpapi.NewHandler(
		components.Retriever,
		components.Reranker,
		components.Generator,
		components.JobRepo,
		components.NewLoader,
		components.NewSink,
		cfg.Retrieval.TopK,
		log,
	)
	handler.RegisterRoutes(e)

	e.GET("/readyz", func(c echo.Context) error {
		if err := dbPool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Info("server_starting", slog.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("server_stopped", slog.Any("error", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("shutdown_failed", slog.Any("error", err))
	}
}
