package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/speech"
)

// ErrAllFailed is returned when every provider of a [TTSFallback] failed or
// had its breaker open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker created for each provider of a
// [TTSFallback]. CircuitBreaker.Name is replaced by the provider name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type ttsEntry struct {
	name     string
	provider tts.Provider
	breaker  *CircuitBreaker
}

// TTSFallback is a [tts.Provider] that tries a chain of providers in order,
// each behind its own [CircuitBreaker]. Providers must be added before the
// chain is shared between goroutines.
type TTSFallback struct {
	cfg     FallbackConfig
	entries []ttsEntry
}

var (
	_ tts.Provider = (*TTSFallback)(nil)
	_ speech.Guard = (*CircuitBreaker)(nil)
)

// NewTTSFallback returns a chain whose preferred provider is primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	f := &TTSFallback{cfg: cfg}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends provider to the chain.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	cbCfg := f.cfg.CircuitBreaker
	cbCfg.Name = name
	f.entries = append(f.entries, ttsEntry{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Providers returns the provider names in failover order.
func (f *TTSFallback) Providers() []string {
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.name
	}
	return names
}

// Synthesize renders text with the first provider that accepts it. Only the
// stream setup is covered by failover; a stream that ends early is reported
// by the speech device, which paces that line by reading time instead.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	return firstOf(ctx, f, "synthesize", func(ctx context.Context, p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first provider that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return firstOf(ctx, f, "list_voices", func(ctx context.Context, p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}

// firstOf walks the chain until fn succeeds. Providers with an open breaker
// are skipped; cancellation of ctx ends the walk with ctx's error.
func firstOf[R any](ctx context.Context, f *TTSFallback, op string, fn func(context.Context, tts.Provider) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i, e := range f.entries {
		var out R
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, e.provider)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("tts fallback in use", "op", op, "provider", e.name)
			}
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("tts provider skipped, circuit open", "op", op, "provider", e.name)
			continue
		}
		slog.Warn("tts provider failed", "op", op, "provider", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
