package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/talkbox/backend/internal/app"
	"github.com/zhouzirui/talkbox/backend/internal/config"
	"github.com/zhouzirui/talkbox/backend/internal/handler"
	"github.com/zhouzirui/talkbox/backend/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, continuing with system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	components, err := app.Build(ctx, cfg.Bot, nil)
	if err != nil {
		slog.Error("failed to initialise chat service", "error", err)
		os.Exit(1)
	}
	slog.Info("chat service ready",
		"profile", components.Profile.ID,
		"delay_min", cfg.Bot.DelayMin,
		"delay_max", cfg.Bot.DelayMax,
	)

	var wg sync.WaitGroup
	if cfg.Telegram.Enabled() {
		api, updates, err := telegram.Connect(cfg.Telegram.Token, cfg.Telegram.Debug, cfg.Telegram.Timeout)
		if err != nil {
			slog.Warn("failed to connect telegram bot, continuing without it", "error", err)
		} else {
			bot := telegram.New(api, components.Chat, components.Profile.ID)
			wg.Add(1)
			go func() {
				defer wg.Done()
				bot.Run(ctx, updates)
			}()
		}
	} else {
		slog.Info("TELEGRAM_BOT_TOKEN not set, skipping telegram bot")
	}

	router := handler.NewRouter(components.Profiles, components.Chat, cfg.Server.AllowedOrigins)

	startServer(ctx, cfg.Server, router)
	wg.Wait()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("talkbox backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
