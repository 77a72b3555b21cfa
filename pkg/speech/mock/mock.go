// Package mock provides a manually driven speech.Backend for tests.
//
// Backend never completes anything on its own: tests inspect the recorded
// plays and call Complete to deliver a completion, modelling a late or
// out-of-order signal from a real device.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/speech"
)

// Play records one call to Backend.Play.
type Play struct {
	Ctx       context.Context
	Utterance speech.Utterance
	done      func()
}

// Backend is a mock implementation of speech.Backend.
type Backend struct {
	mu    sync.Mutex
	plays []Play

	// AutoComplete, when true, completes every utterance synchronously
	// inside Play.
	AutoComplete bool
}

// Play records the call.
func (b *Backend) Play(ctx context.Context, u speech.Utterance, done func()) {
	b.mu.Lock()
	b.plays = append(b.plays, Play{Ctx: ctx, Utterance: u, done: done})
	auto := b.AutoComplete
	b.mu.Unlock()
	if auto {
		done()
	}
}

// Plays returns a copy of the recorded plays. Thread-safe.
func (b *Backend) Plays() []Play {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Play, len(b.plays))
	copy(out, b.plays)
	return out
}

// Texts returns the text of every recorded play in order.
func (b *Backend) Texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.plays))
	for i, p := range b.plays {
		out[i] = p.Utterance.Text
	}
	return out
}

// Len returns the number of recorded plays.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.plays)
}

// Last returns the most recent play.
func (b *Backend) Last() (Play, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.plays) == 0 {
		return Play{}, false
	}
	return b.plays[len(b.plays)-1], true
}

// Complete fires the completion callback of play i, regardless of whether
// it has been superseded. It panics if i is out of range.
func (b *Backend) Complete(i int) {
	b.mu.Lock()
	done := b.plays[i].done
	b.mu.Unlock()
	done()
}

// CompleteLast fires the completion of the most recent play and reports
// whether there was one.
func (b *Backend) CompleteLast() bool {
	b.mu.Lock()
	if len(b.plays) == 0 {
		b.mu.Unlock()
		return false
	}
	done := b.plays[len(b.plays)-1].done
	b.mu.Unlock()
	done()
	return true
}

// Reset clears the recorded plays.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plays = nil
}

var _ speech.Backend = (*Backend)(nil)
