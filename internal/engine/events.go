package engine

import (
	"github.com/MrWong99/parley/internal/recap"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/speech"
)

// Event is emitted by the engine to presentation layers. Events are plain
// values; consumers must not use them to reach back into the session.
type Event interface {
	// Name is the snake_case wire name of the event.
	Name() string
}

// Listener receives events in emission order. It is called on the engine's
// loop goroutine, so it must return quickly and must not call back into the
// [Engine] synchronously.
type Listener func(Event)

// NodeEntered is emitted whenever the session moves to a node.
type NodeEntered struct {
	NodeID string     `json:"nodeId"`
	Kind   scene.Kind `json:"kind"`

	// Speaker is the display name of an NPC node's speaker.
	Speaker string `json:"speaker,omitempty"`

	// AutoAdvance is set when the node is an NPC line followed by a pick,
	// which the engine enters on its own once the line has been spoken.
	AutoAdvance bool `json:"autoAdvance,omitempty"`

	Node scene.Node `json:"node"`
}

// OptionChosen is emitted for every accepted choice.
type OptionChosen struct {
	Record session.PickRecord `json:"record"`

	// Cues are the reaction cues, neutral when the option declares none.
	Cues scene.Nonverbal `json:"cues"`

	// Reaction is a one-line description of how the NPC takes the choice.
	Reaction string `json:"reaction"`

	Tone    []string             `json:"tone,omitempty"`
	Explain *scene.LocalizedText `json:"explain,omitempty"`
}

// SceneEnded is emitted on entering an end node.
type SceneEnded struct {
	NodeID string `json:"nodeId"`
	Ending string `json:"ending"`
}

// RecapReady carries the summary generated at the end of a scene.
type RecapReady struct {
	Summary recap.Summary `json:"summary"`
}

// PreferencesChanged is emitted whenever a presentation preference changes.
type PreferencesChanged struct {
	Prefs Preferences `json:"prefs"`
}

// SpeechStarted is emitted for every utterance handed to the speech port.
type SpeechStarted struct {
	Utterance speech.Utterance `json:"utterance"`

	// Subtitle is the line in the active subtitle language, if any.
	Subtitle string `json:"subtitle,omitempty"`
}

// SessionHalted is emitted when a runtime invariant violation stops the
// session.
type SessionHalted struct {
	NodeID string `json:"nodeId"`
	Error  string `json:"error"`
}

// TransferAnswered is emitted after the player answered the transfer check.
type TransferAnswered struct {
	Result recap.TransferResult `json:"result"`
}

func (NodeEntered) Name() string        { return "node_entered" }
func (OptionChosen) Name() string       { return "option_chosen" }
func (SceneEnded) Name() string         { return "scene_ended" }
func (RecapReady) Name() string         { return "recap_ready" }
func (PreferencesChanged) Name() string { return "preferences_changed" }
func (SpeechStarted) Name() string      { return "speech_started" }
func (SessionHalted) Name() string      { return "session_halted" }
func (TransferAnswered) Name() string   { return "transfer_answered" }
