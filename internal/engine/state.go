package engine

import (
	"github.com/MrWong99/parley/internal/recap"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/speech"
)

// Phase is the state-machine position of a session.
type Phase string

const (
	// PhaseUnstarted is the state before Start.
	PhaseUnstarted Phase = "unstarted"

	// PhaseNPC means an NPC line is current.
	PhaseNPC Phase = "npc"

	// PhasePick means the player must choose one of three options.
	PhasePick Phase = "pick"

	// PhaseEnd is terminal; only Restart leaves it.
	PhaseEnd Phase = "end"
)

func phaseOf(k scene.Kind) Phase {
	switch k {
	case scene.KindNPC:
		return PhaseNPC
	case scene.KindPick:
		return PhasePick
	case scene.KindEnd:
		return PhaseEnd
	}
	return PhaseUnstarted
}

// Preferences are presentation settings. They survive Restart.
type Preferences struct {
	Lang    scene.Lang `json:"lang"`
	Explain bool       `json:"explain"`
	Audio   bool       `json:"audio"`
}

// DefaultPreferences returns subtitles off, explain mode off and audio off.
func DefaultPreferences() Preferences {
	return Preferences{Lang: scene.LangOff}
}

// State is a point-in-time snapshot of a session. It shares nothing with
// the engine and may be retained by the caller.
type State struct {
	SessionID string `json:"sessionId"`
	SceneID   string `json:"sceneId"`
	Phase     Phase  `json:"phase"`

	// NodeID is empty while unstarted.
	NodeID string               `json:"nodeId,omitempty"`
	Kind   scene.Kind           `json:"kind,omitempty"`
	Picks  []session.PickRecord `json:"picks"`
	Prefs  Preferences          `json:"prefs"`

	// Last is the most recently spoken utterance, if any.
	Last *speech.Utterance `json:"last,omitempty"`

	// Speaking is the token of the utterance still in flight, or zero.
	Speaking speech.Token `json:"speaking,omitempty"`

	// AwaitingContinue is set at an NPC line whose successor is not a pick;
	// such lines only move on through Advance.
	AwaitingContinue bool `json:"awaitingContinue,omitempty"`

	// Summary is set once the session reached an ending.
	Summary *recap.Summary `json:"summary,omitempty"`

	// Halted holds the message of the runtime invariant violation that
	// stopped the session.
	Halted string `json:"halted,omitempty"`
}
