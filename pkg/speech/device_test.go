package speech_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/speech"
	"github.com/MrWong99/parley/pkg/speech/mock"
)

type recordingSink struct {
	mu         sync.Mutex
	bytes      int
	tokens     []speech.Token
	interrupts int
	err        error
}

func (s *recordingSink) WriteAudio(_ context.Context, u speech.Utterance, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.bytes += len(pcm)
	s.tokens = append(s.tokens, u.Token)
	return nil
}

func (s *recordingSink) Interrupt() {
	s.mu.Lock()
	s.interrupts++
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes, s.interrupts
}

type countingGuard struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGuard) Execute(ctx context.Context, fn func(context.Context) error) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return fn(ctx)
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDevice_PlaysAndCompletes(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 160), make([]byte, 160)}}
	sink := &recordingSink{}
	guard := &countingGuard{}
	npcVoice := tts.Voice{ID: "npc-voice"}

	d, err := speech.NewDevice(p, sink,
		speech.WithVoice(speech.RoleNPC, npcVoice),
		speech.WithSpeakDelay(0),
		speech.WithGuard(guard),
	)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}

	done := make(chan struct{})
	d.Play(context.Background(), speech.Utterance{Token: 1, Text: "Hi.", Role: speech.RoleNPC}, func() { close(done) })
	waitDone(t, done)

	if n, _ := sink.snapshot(); n != 320 {
		t.Errorf("sink bytes: got %d, want 320", n)
	}
	calls := p.Calls()
	if len(calls) != 1 || calls[0].Text != "Hi." || calls[0].Voice.ID != "npc-voice" {
		t.Errorf("synthesize calls: %+v", calls)
	}
	if guard.calls != 1 {
		t.Errorf("guard calls: got %d, want 1", guard.calls)
	}
}

func TestDevice_PlaybackTime(t *testing.T) {
	t.Parallel()
	d, _ := speech.NewDevice(&ttsmock.Provider{}, &recordingSink{}, speech.WithSampleRate(16000))
	if got := d.PlaybackTime(32000); got != time.Second {
		t.Errorf("got %v, want 1s", got)
	}
}

func TestDevice_FallbackOnFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		provider *ttsmock.Provider
		sinkErr  error
	}{
		{name: "synthesize error", provider: &ttsmock.Provider{SynthesizeErr: errors.New("boom")}},
		{name: "no audio", provider: &ttsmock.Provider{}},
		{name: "sink error", provider: &ttsmock.Provider{SynthesizeChunks: [][]byte{{0, 0}}}, sinkErr: errors.New("closed")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fb := &mock.Backend{AutoComplete: true}
			d, _ := speech.NewDevice(tc.provider, &recordingSink{err: tc.sinkErr},
				speech.WithSpeakDelay(0),
				speech.WithFallback(fb),
			)

			done := make(chan struct{})
			d.Play(context.Background(), speech.Utterance{Token: 7, Text: "x", Role: speech.RolePlayer}, func() { close(done) })
			waitDone(t, done)

			if fb.Len() != 1 {
				t.Fatalf("fallback plays: got %d, want 1", fb.Len())
			}
			if got := fb.Plays()[0].Utterance.Token; got != 7 {
				t.Errorf("fallback token: got %d", got)
			}
		})
	}
}

func TestDevice_CancelSuppressesCompletion(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{0, 0}}, Block: block}
	fb := &mock.Backend{AutoComplete: true}
	d, _ := speech.NewDevice(p, &recordingSink{}, speech.WithSpeakDelay(0), speech.WithFallback(fb))

	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{}, 1)
	d.Play(ctx, speech.Utterance{Token: 1, Text: "x"}, func() { fired <- struct{}{} })

	waitFor(t, func() bool { return len(p.Calls()) == 1 })
	cancel()
	close(block)

	select {
	case <-fired:
		t.Fatal("cancelled utterance completed")
	case <-time.After(100 * time.Millisecond):
	}
	if fb.Len() != 0 {
		t.Error("cancellation must not trigger the fallback")
	}
}

func TestDevice_InterruptsOnlyWhenActive(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{0, 0}}, Block: block}
	sink := &recordingSink{}
	d, _ := speech.NewDevice(p, sink, speech.WithSpeakDelay(0))

	d.Play(context.Background(), speech.Utterance{Token: 1, Text: "first"}, func() {})
	waitFor(t, func() bool { return len(p.Calls()) == 1 })

	second := make(chan struct{})
	d.Play(context.Background(), speech.Utterance{Token: 2, Text: "second"}, func() { close(second) })
	waitFor(t, func() bool { _, i := sink.snapshot(); return i == 1 })
	close(block)
	waitDone(t, second)

	// Nothing is playing any more, so a new utterance does not interrupt.
	third := make(chan struct{})
	d.Play(context.Background(), speech.Utterance{Token: 3, Text: "third"}, func() { close(third) })
	waitDone(t, third)
	if _, i := sink.snapshot(); i != 1 {
		t.Errorf("interrupts: got %d, want 1", i)
	}
}

func TestNewDevice_Validation(t *testing.T) {
	t.Parallel()
	if _, err := speech.NewDevice(nil, &recordingSink{}); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := speech.NewDevice(&ttsmock.Provider{}, nil); err == nil {
		t.Error("expected error for nil sink")
	}
}
