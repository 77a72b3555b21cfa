package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/parley/internal/engine"
)

// feedBuffer is the depth of the event queue between engine and UI.
const feedBuffer = 256

// Feed carries engine events to the UI. Its [Feed.Listener] runs on the
// engine loop and only blocks while the queue is full.
type Feed struct {
	ch   chan engine.Event
	done chan struct{}
	once sync.Once
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{
		ch:   make(chan engine.Event, feedBuffer),
		done: make(chan struct{}),
	}
}

// Listener returns the engine listener that feeds f.
func (f *Feed) Listener() engine.Listener {
	return func(ev engine.Event) {
		select {
		case f.ch <- ev:
		case <-f.done:
		}
	}
}

// Close stops delivery. Pending events are dropped.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
}

type eventMsg struct{ ev engine.Event }

type feedClosedMsg struct{}

// wait returns a command that delivers the next event.
func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-f.ch:
			return eventMsg{ev: ev}
		case <-f.done:
			return feedClosedMsg{}
		}
	}
}
