package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const tracerName = "github.com/MrWong99/parley/pkg/speech"

// ErrNoAudio is reported when a provider finishes without producing audio.
var ErrNoAudio = errors.New("speech: provider produced no audio")

// DefaultSpeakDelay is the pause a [Device] takes before each utterance so
// an interrupted output can settle.
const DefaultSpeakDelay = 50 * time.Millisecond

// DefaultSampleRate matches the provider's default 16 kHz PCM output.
const DefaultSampleRate = 16000

// Sink receives synthesised audio for playback.
type Sink interface {
	// WriteAudio delivers a chunk of 16-bit mono PCM belonging to u.
	WriteAudio(ctx context.Context, u Utterance, pcm []byte) error

	// Interrupt asks the output to drop whatever it is still playing.
	Interrupt()
}

// Guard wraps a synthesis attempt, e.g. with a circuit breaker.
type Guard interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

type passGuard struct{}

func (passGuard) Execute(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

// Device is the live backend. It synthesises each utterance through a
// tts.Provider, streams the audio into a [Sink] and reports completion once
// the audio has had time to play out. When synthesis fails the utterance is
// handed to the fallback backend so the dialogue never stalls on a broken
// voice service.
type Device struct {
	provider   tts.Provider
	sink       Sink
	voices     map[Role]tts.Voice
	sampleRate int
	speakDelay time.Duration
	guard      Guard
	fallback   Backend
	logger     *slog.Logger

	mu      sync.Mutex
	playing Token
}

// DeviceOption configures a [Device].
type DeviceOption func(*Device)

// WithVoice assigns the voice used for role.
func WithVoice(role Role, v tts.Voice) DeviceOption {
	return func(d *Device) { d.voices[role] = v }
}

// WithSampleRate sets the PCM sample rate used to compute playback time.
func WithSampleRate(hz int) DeviceOption {
	return func(d *Device) {
		if hz > 0 {
			d.sampleRate = hz
		}
	}
}

// WithSpeakDelay overrides [DefaultSpeakDelay]. Negative values are ignored.
func WithSpeakDelay(delay time.Duration) DeviceOption {
	return func(d *Device) {
		if delay >= 0 {
			d.speakDelay = delay
		}
	}
}

// WithGuard wraps every synthesis attempt in g.
func WithGuard(g Guard) DeviceOption {
	return func(d *Device) {
		if g != nil {
			d.guard = g
		}
	}
}

// WithFallback sets the backend used when synthesis fails. The default is
// a [Timer] with default reading times.
func WithFallback(b Backend) DeviceOption {
	return func(d *Device) {
		if b != nil {
			d.fallback = b
		}
	}
}

// WithDeviceLogger sets the logger.
func WithDeviceLogger(l *slog.Logger) DeviceOption {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDevice creates a Device synthesising with p and playing into sink.
func NewDevice(p tts.Provider, sink Sink, opts ...DeviceOption) (*Device, error) {
	if p == nil {
		return nil, errors.New("speech: device requires a tts provider")
	}
	if sink == nil {
		return nil, errors.New("speech: device requires a sink")
	}
	d := &Device{
		provider:   p,
		sink:       sink,
		voices:     make(map[Role]tts.Voice, 2),
		sampleRate: DefaultSampleRate,
		speakDelay: DefaultSpeakDelay,
		guard:      passGuard{},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.fallback == nil {
		d.fallback = NewTimer()
	}
	return d, nil
}

// Play implements [Backend].
func (d *Device) Play(ctx context.Context, u Utterance, done func()) {
	go d.run(ctx, u, done)
}

// PlaybackTime returns how long n bytes of 16-bit mono PCM take to play.
func (d *Device) PlaybackTime(n int) time.Duration {
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(d.sampleRate)
}

func (d *Device) run(ctx context.Context, u Utterance, done func()) {
	// Only interrupt the output if something is still playing.
	d.mu.Lock()
	interrupt := d.playing != 0 && d.playing != u.Token
	d.playing = u.Token
	d.mu.Unlock()
	if interrupt {
		d.sink.Interrupt()
	}
	defer d.release(u.Token)

	if !sleep(ctx, d.speakDelay) {
		return
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "speech.device.play")
	defer span.End()
	span.SetAttributes(
		attribute.String("speech.role", string(u.Role)),
		attribute.Int("speech.chars", len(u.Text)),
	)

	start := time.Now()
	var playback time.Duration
	err := d.guard.Execute(ctx, func(ctx context.Context) error {
		n, err := d.stream(ctx, u)
		playback = d.PlaybackTime(n)
		return err
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("speech: device playback failed, using fallback", "token", u.Token, "role", u.Role, "err", err)
		d.fallback.Play(ctx, u, done)
		return
	}

	if !sleep(ctx, playback-time.Since(start)) {
		return
	}
	d.release(u.Token)
	done()
}

func (d *Device) release(tok Token) {
	d.mu.Lock()
	if d.playing == tok {
		d.playing = 0
	}
	d.mu.Unlock()
}

func (d *Device) stream(ctx context.Context, u Utterance) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := d.provider.Synthesize(ctx, u.Text, d.voices[u.Role])
	if err != nil {
		return 0, fmt.Errorf("speech: synthesize: %w", err)
	}
	n := 0
	for pcm := range ch {
		if err := d.sink.WriteAudio(ctx, u, pcm); err != nil {
			cancel()
			for range ch {
			}
			return n, fmt.Errorf("speech: write audio: %w", err)
		}
		n += len(pcm)
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrNoAudio
	}
	return n, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ Backend = (*Device)(nil)
