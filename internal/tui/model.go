// Package tui is the terminal player. It drives one [engine.Engine] from the
// keyboard and renders the session from engine events.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/internal/recap"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/speech"
)

const (
	// maxTranscript is the number of spoken lines kept on screen.
	maxTranscript = 6

	// refreshInterval is how often the session snapshot is polled so the
	// speaking indicator follows completions that emit no event.
	refreshInterval = 200 * time.Millisecond
)

// line is one entry of the on-screen transcript.
type line struct {
	role     speech.Role
	speaker  string
	text     string
	subtitle string
}

type stateMsg struct{ st engine.State }

type actionMsg struct {
	action string
	err    error
}

type refreshMsg struct{}

// Model is the bubbletea model of the player.
type Model struct {
	ctx   context.Context
	eng   *engine.Engine
	feed  *Feed
	graph *scene.Graph

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	styles  styles
	width   int

	state      engine.State
	speaker    string
	transcript []line
	pick       *scene.Pick
	chosen     *engine.OptionChosen
	summary    *recap.Summary
	transfer   *recap.TransferResult
	halted     string
	status     string
}

// NewModel creates the player for eng. Events must reach feed, i.e. eng was
// created with feed's listener. g is the graph eng was created with.
func NewModel(ctx context.Context, eng *engine.Engine, feed *Feed, g *scene.Graph) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:     ctx,
		eng:     eng,
		feed:    feed,
		graph:   g,
		keys:    defaultKeys(),
		help:    help.New(),
		spinner: sp,
		styles:  defaultStyles(),
		state:   engine.State{Phase: engine.PhaseUnstarted, Prefs: engine.DefaultPreferences()},
	}
}

// Init starts the session and begins listening for events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.feed.wait(),
		m.spinner.Tick,
		m.refreshTick(),
		m.act("start", m.eng.Start),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case eventMsg:
		m.apply(msg.ev)
		return m, tea.Batch(m.feed.wait(), m.snapshot())

	case feedClosedMsg:
		return m, nil

	case stateMsg:
		m.state = msg.st
		return m, nil

	case refreshMsg:
		return m, tea.Batch(m.snapshot(), m.refreshTick())

	case actionMsg:
		m.status = ""
		if msg.err != nil {
			m.status = describe(msg.action, msg.err)
		}
		return m, m.snapshot()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Continue):
		if m.state.Phase != engine.PhaseNPC {
			return m, nil
		}
		return m, m.act("advance", m.eng.Advance)
	case key.Matches(msg, m.keys.Option1):
		return m, m.choose(0)
	case key.Matches(msg, m.keys.Option2):
		return m, m.choose(1)
	case key.Matches(msg, m.keys.Option3):
		return m, m.choose(2)
	case key.Matches(msg, m.keys.Subs):
		return m, m.act("toggle_language", func(ctx context.Context) error {
			_, err := m.eng.ToggleLanguage(ctx)
			return err
		})
	case key.Matches(msg, m.keys.Explain):
		return m, m.act("toggle_explain", func(ctx context.Context) error {
			_, err := m.eng.ToggleExplain(ctx)
			return err
		})
	case key.Matches(msg, m.keys.Voice):
		enable := !m.state.Prefs.Audio
		return m, m.act("audio", func(ctx context.Context) error {
			return m.eng.SetAudio(ctx, enable)
		})
	case key.Matches(msg, m.keys.Replay):
		return m, m.act("replay", m.eng.Replay)
	case key.Matches(msg, m.keys.Restart):
		m.reset()
		return m, m.act("restart", m.eng.Restart)
	}
	return m, nil
}

// choose picks option i at a pick, or answers the transfer check once the
// scene has ended.
func (m Model) choose(i int) tea.Cmd {
	switch {
	case m.state.Phase == engine.PhasePick && m.pick != nil:
		if i >= len(m.pick.Options) {
			return nil
		}
		pickID, optID := m.state.NodeID, m.pick.Options[i].ID
		return m.act("choose", func(ctx context.Context) error {
			return m.eng.Choose(ctx, pickID, optID)
		})
	case m.state.Phase == engine.PhaseEnd && m.summary != nil && m.transfer == nil:
		choices := m.summary.Transfer.Choices
		if i >= len(choices) {
			return nil
		}
		id := choices[i].ID
		return m.act("transfer", func(ctx context.Context) error {
			_, err := m.eng.AnswerTransfer(ctx, id)
			return err
		})
	}
	return nil
}

// act runs an engine action off the UI goroutine.
func (m Model) act(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) snapshot() tea.Cmd {
	ctx, eng := m.ctx, m.eng
	return func() tea.Msg {
		st, err := eng.State(ctx)
		if err != nil {
			return nil
		}
		return stateMsg{st: st}
	}
}

func (m Model) refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

// apply folds an engine event into the view state.
func (m *Model) apply(ev engine.Event) {
	switch ev := ev.(type) {
	case engine.NodeEntered:
		m.state.NodeID = ev.NodeID
		m.state.Kind = ev.Kind
		m.pick = nil
		switch ev.Kind {
		case scene.KindNPC:
			m.state.Phase = engine.PhaseNPC
			m.speaker = ev.Speaker
			m.chosen = nil
		case scene.KindPick:
			m.state.Phase = engine.PhasePick
			m.pick = ev.Node.Pick
			m.chosen = nil
		case scene.KindEnd:
			m.state.Phase = engine.PhaseEnd
		}
	case engine.SpeechStarted:
		l := line{
			role:     ev.Utterance.Role,
			text:     ev.Utterance.Text,
			subtitle: ev.Subtitle,
			speaker:  "You",
		}
		if l.role == speech.RoleNPC {
			l.speaker = m.speaker
			if m.state.Phase == engine.PhaseEnd {
				l.speaker = ""
			}
		}
		m.transcript = append(m.transcript, l)
		if n := len(m.transcript); n > maxTranscript {
			m.transcript = m.transcript[n-maxTranscript:]
		}
		m.state.Speaking = ev.Utterance.Token
	case engine.OptionChosen:
		chosen := ev
		m.chosen = &chosen
	case engine.RecapReady:
		summary := ev.Summary
		m.summary = &summary
	case engine.PreferencesChanged:
		m.state.Prefs = ev.Prefs
	case engine.SessionHalted:
		m.halted = ev.Error
	case engine.TransferAnswered:
		result := ev.Result
		m.transfer = &result
	}
}

// reset clears everything a restart replaces. Preferences survive.
func (m *Model) reset() {
	m.transcript = nil
	m.pick = nil
	m.chosen = nil
	m.summary = nil
	m.transfer = nil
	m.halted = ""
	m.status = ""
}

// describe renders a rejected action for the status line.
func describe(action string, err error) string {
	if errors.Is(err, context.Canceled) {
		return ""
	}
	return fmt.Sprintf("%s rejected (%s): %v", action, engine.KindOf(err), err)
}
