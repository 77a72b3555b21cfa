package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/pkg/scene"
)

// Run plays g in the terminal until the player quits or ctx is cancelled.
// opts configure the engine; Run adds its own listener.
func Run(ctx context.Context, g *scene.Graph, opts ...engine.Option) error {
	feed := NewFeed()
	eng, err := engine.New(g, append(opts, engine.WithListener(feed.Listener()))...)
	if err != nil {
		return fmt.Errorf("tui: create engine: %w", err)
	}
	// Unblock the listener before waiting for the engine loop.
	defer func() {
		feed.Close()
		_ = eng.Close()
	}()

	p := tea.NewProgram(NewModel(ctx, eng, feed, g),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
