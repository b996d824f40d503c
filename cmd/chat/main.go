package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/talkbox/backend/internal/app"
	"github.com/zhouzirui/talkbox/backend/internal/config"
	"github.com/zhouzirui/talkbox/backend/internal/tui"
)

func main() {
	// Logs would tear the alternate screen.
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	_ = godotenv.Load()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.Build(ctx, cfg.Bot, nil)
	if err != nil {
		return fmt.Errorf("failed to initialise chat: %w", err)
	}

	model, err := tui.New(ctx, components.Chat, components.Profile)
	if err != nil {
		return fmt.Errorf("failed to open chat: %w", err)
	}
	defer model.Close()

	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run(); err != nil {
		return fmt.Errorf("chat exited with error: %w", err)
	}
	return nil
}
