package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/internal/recap"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/speech"
)

type styles struct {
	title    lipgloss.Style
	tags     lipgloss.Style
	chipOn   lipgloss.Style
	chipOff  lipgloss.Style
	speaker  lipgloss.Style
	player   lipgloss.Style
	subtitle lipgloss.Style
	prompt   lipgloss.Style
	option   lipgloss.Style
	reaction lipgloss.Style
	explain  lipgloss.Style
	panel    lipgloss.Style
	badges   map[recap.Badge]lipgloss.Style
	errorMsg lipgloss.Style
	hint     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		tags:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		chipOn:   lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230")),
		chipOff:  lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("241")),
		speaker:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		player:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		subtitle: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244")),
		prompt:   lipgloss.NewStyle().Bold(true),
		option:   lipgloss.NewStyle().PaddingLeft(2),
		reaction: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("180")),
		explain:  lipgloss.NewStyle().Foreground(lipgloss.Color("109")).PaddingLeft(2),
		panel:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		badges: map[recap.Badge]lipgloss.Style{
			recap.BadgeOK:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
			recap.BadgeWarn: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
			recap.BadgeBad:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		},
		errorMsg: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		hint:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.header())
	b.WriteString("\n\n")

	for _, l := range m.transcript {
		b.WriteString(m.renderLine(l))
		b.WriteByte('\n')
	}
	if m.state.Speaking != 0 {
		b.WriteString(m.spinner.View())
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if m.chosen != nil {
		b.WriteString(m.styles.reaction.Render(m.chosen.Reaction))
		b.WriteByte('\n')
		if m.state.Prefs.Explain && m.chosen.Explain != nil {
			b.WriteString(m.styles.explain.Render(m.localized(*m.chosen.Explain)))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	switch {
	case m.halted != "":
		b.WriteString(m.styles.errorMsg.Render("Session halted: " + m.halted))
		b.WriteString("\n" + m.styles.hint.Render("Press n to restart."))
	case m.state.Phase == engine.PhasePick && m.pick != nil:
		b.WriteString(m.renderPick())
	case m.state.Phase == engine.PhaseNPC && m.state.AwaitingContinue:
		b.WriteString(m.styles.hint.Render("Press space to continue."))
	case m.state.Phase == engine.PhaseEnd && m.summary != nil:
		b.WriteString(m.renderRecap())
	}
	b.WriteString("\n\n")

	if m.status != "" {
		b.WriteString(m.styles.errorMsg.Render(m.status))
		b.WriteByte('\n')
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) header() string {
	meta := m.graph.Meta()
	title := m.styles.title.Render(meta.Title.En)
	if tags := meta.Context.Tags(); len(tags) > 0 {
		title += "  " + m.styles.tags.Render(strings.Join(tags, " · "))
	}

	prefs := m.state.Prefs
	subs := "Subs: off"
	if prefs.Lang != scene.LangOff {
		subs = "Subs: " + strings.ToUpper(string(prefs.Lang))
	}
	chips := []string{
		m.chip(subs, prefs.Lang != scene.LangOff),
		m.chip("Explain", prefs.Explain),
		m.chip("Voice", prefs.Audio),
	}
	return title + "\n" + strings.Join(chips, " ")
}

func (m Model) chip(label string, on bool) string {
	if on {
		return m.styles.chipOn.Render(label)
	}
	return m.styles.chipOff.Render(label)
}

func (m Model) renderLine(l line) string {
	var head string
	switch {
	case l.role == speech.RolePlayer:
		head = m.styles.player.Render(l.speaker+":") + " "
	case l.speaker != "":
		head = m.styles.speaker.Render(l.speaker+":") + " "
	}
	out := head + l.text
	if l.subtitle != "" {
		out += "\n  " + m.styles.subtitle.Render(l.subtitle)
	}
	return out
}

func (m Model) renderPick() string {
	var b strings.Builder
	b.WriteString(m.styles.prompt.Render(m.pick.Prompt.En))
	b.WriteByte('\n')
	for i, o := range m.pick.Options {
		text := fmt.Sprintf("[%d] %s", i+1, o.En)
		if sub := o.In(m.state.Prefs.Lang); sub != "" {
			text += "  " + m.styles.subtitle.Render(sub)
		}
		b.WriteString(m.styles.option.Render(text))
		b.WriteByte('\n')
		if m.state.Prefs.Explain && len(o.Tone) > 0 {
			b.WriteString(m.styles.explain.Render("tone: " + strings.Join(o.Tone, ", ")))
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderRecap() string {
	s := m.summary
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", m.styles.prompt.Render("Recap"), m.styles.tags.Render(fmt.Sprintf("ending: %s · picks: %d", s.Ending, s.Picks)))

	cards := make([]string, 0, len(s.Panels))
	for _, p := range s.Panels {
		badge := m.styles.badges[p.Badge].Render(p.Label)
		cards = append(cards, m.styles.panel.Render(badge+"\n"+p.Text))
	}
	if len(cards) > 0 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
		b.WriteByte('\n')
	}

	b.WriteString(m.styles.prompt.Render("Try instead: "))
	b.WriteString(s.Suggestion.Text)
	b.WriteString("\n\n")

	b.WriteString(m.styles.prompt.Render(s.Transfer.Question))
	b.WriteByte('\n')
	for i, c := range s.Transfer.Choices {
		b.WriteString(m.styles.option.Render(fmt.Sprintf("[%d] %s", i+1, c.Text)))
		b.WriteByte('\n')
	}
	if r := m.transfer; r != nil {
		verdict := m.styles.badges[recap.BadgeBad].Render("Not quite.")
		if r.Correct {
			verdict = m.styles.badges[recap.BadgeOK].Render("Nice, that keeps it light.")
		}
		b.WriteString(verdict)
	} else {
		b.WriteString(m.styles.hint.Render("Answer with 1-3, or press n to play again."))
	}
	return b.String()
}

// localized renders English text with the active subtitle underneath.
func (m Model) localized(t scene.LocalizedText) string {
	if sub := t.In(m.state.Prefs.Lang); sub != "" {
		return t.En + "\n" + sub
	}
	return t.En
}
