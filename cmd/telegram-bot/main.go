package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"growth-assessor/internal/app"
	"growth-assessor/internal/config"
	"growth-assessor/internal/logger"
	"growth-assessor/internal/telegram"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.TelegramBotToken == "" || cfg.TelegramWebhookURL == "" {
		log.Fatalf("TELEGRAM_BOT_TOKEN and TELEGRAM_WEBHOOK_URL must be set")
	}

	l, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer l.Sync()

	ctx := context.Background()

	// 2. Storage, AI clients and workflow
	application, err := app.New(ctx, cfg, l, app.WithServiceName("telegram-bot"))
	if err != nil {
		l.Fatal("Failed to initialize application", "error", err)
	}
	defer application.Close(ctx)

	// 3. Telegram Bot
	bot, err := telegram.NewBot(cfg, application.Workflow, application.Metrics, l)
	if err != nil {
		l.Fatal("Failed to initialize Telegram Bot", "error", err)
	}

	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)

	// 4. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Info("Telegram Bot Server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("Server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	}

	l.Info("Server exiting")
}
