package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/the-ledger-must-flow/internal/lifecycle"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
)

// Run starts the interactive review queue and blocks until the user quits.
func Run(ctx context.Context, storage service.Storage, controller *lifecycle.Controller) error {
	if storage == nil {
		return fmt.Errorf("storage is required")
	}
	if controller == nil {
		return fmt.Errorf("lifecycle controller is required")
	}

	program := tea.NewProgram(
		newModel(ctx, storage, controller),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("review TUI failed: %w", err)
	}
	return nil
}
