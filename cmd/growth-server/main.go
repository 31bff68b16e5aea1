package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"growth-assessor/internal/app"
	"growth-assessor/internal/config"
	"growth-assessor/internal/logger"
	"growth-assessor/internal/proxy"
	"growth-assessor/internal/server"
)

const serviceName = "growth-server"

func main() {
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, l, app.WithServiceName(serviceName))
	if err != nil {
		l.Fatal("Failed to initialize application", "error", err)
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			l.Warn("Failed to close application", "error", err)
		}
	}()

	srv := server.New(server.Config{
		Log:               l,
		Forwarder:         proxy.NewForwarder(cfg.GeminiAPIKey, cfg.GeminiBaseURL),
		AssessmentModel:   cfg.AssessmentModel,
		NutritionModel:    cfg.NutritionModel,
		Workflow:          application.Workflow,
		FrontendURL:       cfg.FrontendURL,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		ServiceName:       serviceName,
		Tracing:           cfg.OtelEnabled,
	})

	if err := srv.Run(ctx, ":"+cfg.Port); err != nil {
		l.Error("Server failed", "error", err)
		return
	}
	l.Info("Server exiting")
}
