// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface: one complete line of dialogue goes
// in, raw 16-bit little-endian mono PCM comes out in chunks as soon as the
// service produces it.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes a TTS voice configuration.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default). Zero means
	// the provider default.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns a channel that emits raw
	// PCM chunks as they are produced.
	//
	// The returned channel is closed by the implementation when synthesis is
	// complete or when ctx is cancelled. The caller must drain it.
	//
	// Returns a non-nil error only if synthesis cannot be started. Errors
	// during synthesis close the channel early; callers should check
	// ctx.Err() to distinguish cancellation from provider errors.
	Synthesize(ctx context.Context, text string, voice Voice) (<-chan []byte, error)

	// ListVoices returns all voices available from this provider.
	ListVoices(ctx context.Context) ([]Voice, error)
}
