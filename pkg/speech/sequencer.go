package speech

import (
	"context"
	"log/slog"
	"sync"
)

// Sequencer serialises utterances onto a [Backend] and enforces that only
// the most recent one can complete.
//
// All methods are safe for concurrent use.
type Sequencer struct {
	mu         sync.Mutex
	backend    Backend
	token      Token
	active     *Handle
	last       Utterance
	onComplete func(Utterance)
	logger     *slog.Logger
}

// SequencerOption configures a [Sequencer].
type SequencerOption func(*Sequencer)

// WithOnComplete registers fn to be called for every accepted completion.
// fn runs on the backend's goroutine and must not block for long.
func WithOnComplete(fn func(Utterance)) SequencerOption {
	return func(s *Sequencer) { s.onComplete = fn }
}

// WithSequencerLogger sets the logger used for debug output.
func WithSequencerLogger(l *slog.Logger) SequencerOption {
	return func(s *Sequencer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSequencer returns a Sequencer playing on b.
func NewSequencer(b Backend, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{backend: b, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle tracks one utterance issued by [Sequencer.Speak].
type Handle struct {
	seq    *Sequencer
	u      Utterance
	cancel context.CancelFunc
	done   chan struct{}
}

// Utterance returns the utterance this handle tracks.
func (h *Handle) Utterance() Utterance { return h.u }

// Token returns the utterance's generation token.
func (h *Handle) Token() Token { return h.u.Token }

// Done is closed when the utterance completes while still current. It is
// never closed for a superseded or cancelled utterance.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel suppresses this utterance's completion. If the utterance is still
// current the sequencer's token is advanced, so nothing is current
// afterwards.
func (h *Handle) Cancel() {
	h.seq.mu.Lock()
	if h.seq.token == h.u.Token {
		h.seq.token++
		h.seq.active = nil
	}
	h.seq.mu.Unlock()
	h.cancel()
}

// Speak supersedes any in-flight utterance and hands text to the backend
// under a fresh token.
func (s *Sequencer) Speak(text string, role Role) *Handle {
	s.mu.Lock()
	prev := s.active
	s.token++
	u := Utterance{Token: s.token, Text: text, Role: role}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{seq: s, u: u, cancel: cancel, done: make(chan struct{})}
	s.active = h
	s.last = u
	b := s.backend
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	s.logger.Debug("speech: speak", "token", u.Token, "role", u.Role, "chars", len(u.Text))
	b.Play(ctx, u, func() { s.complete(h) })
	return h
}

// Cancel invalidates the in-flight utterance, if any. A completion that
// arrives later is discarded.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	prev := s.active
	s.token++
	s.active = nil
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
}

// Current returns the token of the utterance that may still complete, or
// zero when none is in flight.
func (s *Sequencer) Current() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return 0
	}
	return s.active.u.Token
}

// Last returns the most recently spoken utterance.
func (s *Sequencer) Last() (Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last.Token != 0
}

// SetBackend cancels the in-flight utterance and switches playback to b.
func (s *Sequencer) SetBackend(b Backend) {
	s.Cancel()
	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
}

// Backend returns the active backend.
func (s *Sequencer) Backend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

func (s *Sequencer) complete(h *Handle) {
	s.mu.Lock()
	if s.active != h || s.token != h.u.Token {
		s.mu.Unlock()
		s.logger.Debug("speech: stale completion dropped", "token", h.u.Token)
		return
	}
	s.active = nil
	close(h.done)
	s.mu.Unlock()

	h.cancel()
	if s.onComplete != nil {
		s.onComplete(h.u)
	}
}
