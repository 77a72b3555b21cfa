package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/scene/scenetest"
	"github.com/MrWong99/parley/pkg/speech/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type player struct {
	m     Model
	eng   *engine.Engine
	feed  *Feed
	timer *mock.Backend
}

func newPlayer(t *testing.T, doc *scene.Document) *player {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	g := scene.NewGraph(doc, "")
	p := &player{feed: NewFeed(), timer: &mock.Backend{}}
	p.eng, err = engine.New(g,
		engine.WithTimer(p.timer),
		engine.WithMetrics(metrics),
		engine.WithListener(p.feed.Listener()),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() {
		p.feed.Close()
		_ = p.eng.Close()
	})
	p.m = NewModel(context.Background(), p.eng, p.feed, g)
	return p
}

func keyMsg(k string) tea.KeyMsg {
	if k == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func (p *player) update(msg tea.Msg) tea.Cmd {
	next, cmd := p.m.Update(msg)
	p.m = next.(Model)
	return cmd
}

// run executes a single (non-batch) command and feeds its message back.
func (p *player) run(cmd tea.Cmd) {
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			return
		}
		if _, ok := msg.(tea.BatchMsg); ok {
			return
		}
		cmd = p.update(msg)
	}
}

// press sends a key, runs the resulting action and applies queued events.
func (p *player) press(t *testing.T, k string) {
	t.Helper()
	p.run(p.update(keyMsg(k)))
	p.drain()
}

// drain applies every queued event and refreshes the snapshot.
func (p *player) drain() {
	for {
		select {
		case ev := <-p.feed.ch:
			p.update(eventMsg{ev: ev})
		default:
			p.run(p.m.snapshot())
			return
		}
	}
}

// waitFor applies events until one satisfies match.
func (p *player) waitFor(t *testing.T, match func(engine.Event) bool) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.feed.ch:
			p.update(eventMsg{ev: ev})
			if match(ev) {
				p.drain()
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func entered(id string) func(engine.Event) bool {
	return func(ev engine.Event) bool {
		ne, ok := ev.(engine.NodeEntered)
		return ok && ne.NodeID == id
	}
}

func (p *player) start(t *testing.T) {
	t.Helper()
	p.run(p.m.act("start", p.eng.Start))
	p.drain()
}

func mustContain(t *testing.T, view string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(view, want) {
			t.Errorf("view does not contain %q:\n%s", want, view)
		}
	}
}

// ── session flow ─────────────────────────────────────────────────────────────

func TestModel_PlaysThroughScene(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())

	p.start(t)
	mustContain(t, p.m.View(), "Minimal", "maya:", "Hi there.")
	if p.m.state.Phase != engine.PhaseNPC {
		t.Fatalf("phase = %s, want npc", p.m.state.Phase)
	}

	if !p.timer.CompleteLast() {
		t.Fatal("no utterance to complete")
	}
	p.waitFor(t, entered("n002"))
	mustContain(t, p.m.View(), "Say something.", "[1] Nice shoes.", "[3] I should get going.")

	p.press(t, "1")
	if p.m.state.Phase != engine.PhaseEnd {
		t.Fatalf("phase after choose = %s, want end", p.m.state.Phase)
	}
	if p.m.chosen == nil || p.m.chosen.Record.ChosenOptionID != "a" {
		t.Fatalf("chosen = %+v, want option a", p.m.chosen)
	}
	mustContain(t, p.m.View(), "You:", "Nice shoes.", "Recap", "ending: soft", "NATURAL")

	p.press(t, "2")
	if p.m.transfer == nil || !p.m.transfer.Correct {
		t.Fatalf("transfer = %+v, want correct answer", p.m.transfer)
	}
	mustContain(t, p.m.View(), "Nice, that keeps it light.")
}

func TestModel_ContinueOnlyAtNPC(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())

	if cmd := p.update(keyMsg(" ")); cmd != nil {
		t.Error("space before start should not issue an action")
	}

	p.start(t)
	p.press(t, " ")
	if p.m.state.NodeID != "n002" {
		t.Errorf("node after continue = %q, want n002", p.m.state.NodeID)
	}
}

func TestModel_OptionKeyOutsidePick(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())
	p.start(t)

	if cmd := p.update(keyMsg("1")); cmd != nil {
		t.Error("option key at an npc line should not issue an action")
	}
}

func TestModel_RejectedActionShowsStatus(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())

	p.press(t, "r")
	mustContain(t, p.m.View(), "replay rejected (invalid_transition)")

	p.start(t)
	if p.m.status != "" {
		t.Errorf("status after a successful action = %q, want empty", p.m.status)
	}
}

func TestModel_Preferences(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())
	p.start(t)

	p.press(t, "t")
	if p.m.state.Prefs.Lang != scene.LangZH {
		t.Errorf("lang = %q, want zh", p.m.state.Prefs.Lang)
	}
	mustContain(t, p.m.View(), "Subs: ZH", "zh:Hi there.")

	p.press(t, "e")
	if !p.m.state.Prefs.Explain {
		t.Error("explain should be on")
	}

	p.press(t, "v")
	mustContain(t, p.m.View(), "audio rejected (audio_unavailable)")
}

func TestModel_RestartKeepsPreferences(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())
	p.start(t)
	p.press(t, "t")

	p.press(t, "n")
	if p.m.state.Prefs.Lang != scene.LangZH {
		t.Errorf("lang after restart = %q, want zh", p.m.state.Prefs.Lang)
	}
	if p.m.state.NodeID != "n001" {
		t.Errorf("node after restart = %q, want n001", p.m.state.NodeID)
	}
	if n := len(p.m.transcript); n != 1 {
		t.Errorf("transcript after restart has %d lines, want 1", n)
	}
}

func TestModel_Halted(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())
	p.update(eventMsg{ev: engine.SessionHalted{NodeID: "n404", Error: `node "n404" does not resolve`}})
	mustContain(t, p.m.View(), "Session halted", "n404", "Press n to restart.")
}

func TestModel_TranscriptIsBounded(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())
	for range maxTranscript + 3 {
		p.update(eventMsg{ev: engine.SpeechStarted{}})
	}
	if n := len(p.m.transcript); n != maxTranscript {
		t.Errorf("transcript has %d lines, want %d", n, maxTranscript)
	}
}

func TestModel_KeysWithoutActions(t *testing.T) {
	t.Parallel()
	p := newPlayer(t, scenetest.Minimal())

	cmd := p.update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("quit key returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit key should return tea.Quit")
	}

	p.update(keyMsg("?"))
	if !p.m.help.ShowAll {
		t.Error("help key should expand the help view")
	}
}

// ── feed ─────────────────────────────────────────────────────────────────────

func TestFeed(t *testing.T) {
	t.Parallel()
	f := NewFeed()
	f.Listener()(engine.SceneEnded{NodeID: "n003", Ending: "soft"})

	msg, ok := f.wait()().(eventMsg)
	if !ok {
		t.Fatal("wait did not return an event")
	}
	if ev, ok := msg.ev.(engine.SceneEnded); !ok || ev.Ending != "soft" {
		t.Errorf("event = %+v", msg.ev)
	}

	f.Close()
	if _, ok := f.wait()().(feedClosedMsg); !ok {
		t.Error("wait after Close should report a closed feed")
	}

	done := make(chan struct{})
	go func() {
		for range feedBuffer + 1 {
			f.Listener()(engine.SceneEnded{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener blocked after Close")
	}
}
