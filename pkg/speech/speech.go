// Package speech implements the speak/complete/cancel contract the dialogue
// engine drives.
//
// A [Sequencer] stamps every utterance with a monotonically increasing
// [Token]. Only the utterance holding the current token may complete: a
// completion for a superseded or cancelled utterance is dropped, and a
// [Handle]'s Done channel is closed at most once and never after
// cancellation.
//
// Playback itself is delegated to a [Backend]. Two are provided: [Timer],
// which completes after a reading-time delay, and [Device], which streams
// synthesised audio from a tts.Provider into a [Sink] and completes once
// playback has finished.
package speech

import "context"

// Role selects the voice an utterance is spoken with.
type Role string

const (
	RoleNPC    Role = "npc"
	RolePlayer Role = "player"
)

// Token is the generation stamp of an utterance. Zero never identifies an
// utterance.
type Token uint64

// Utterance is one line handed to a [Backend].
type Utterance struct {
	Token Token  `json:"token"`
	Text  string `json:"text"`
	Role  Role   `json:"role"`
}

// Backend plays utterances.
//
// Play must return promptly and do its work asynchronously. It calls done
// at most once, after the utterance has finished. Once ctx is cancelled a
// backend should stop as soon as practical; calling done afterwards is
// harmless because the [Sequencer] discards it, but backends should avoid
// it.
type Backend interface {
	Play(ctx context.Context, u Utterance, done func())
}

// BackendFunc adapts a function to [Backend].
type BackendFunc func(ctx context.Context, u Utterance, done func())

// Play calls f.
func (f BackendFunc) Play(ctx context.Context, u Utterance, done func()) { f(ctx, u, done) }
