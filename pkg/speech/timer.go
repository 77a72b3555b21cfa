package speech

import (
	"context"
	"time"
	"unicode/utf16"
)

// Default reading-time parameters of the [Timer] backend.
const (
	DefaultMinReadingTime = 1500 * time.Millisecond
	DefaultPerCharTime    = 35 * time.Millisecond
)

// ReadingTime returns max(floor, perChar × length of text). Length is counted
// in UTF-16 code units, so a character outside the BMP such as an emoji
// counts twice.
func ReadingTime(text string, floor, perChar time.Duration) time.Duration {
	d := time.Duration(utf16Len(text)) * perChar
	return max(d, floor)
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += max(utf16.RuneLen(r), 1)
	}
	return n
}

// Timer is the silent backend: it completes each utterance after the time a
// reader needs for it.
type Timer struct {
	floor   time.Duration
	perChar time.Duration
}

// TimerOption configures a [Timer].
type TimerOption func(*Timer)

// WithReadingTime overrides the floor and per-character durations. Zero
// values keep the defaults.
func WithReadingTime(floor, perChar time.Duration) TimerOption {
	return func(t *Timer) {
		if floor > 0 {
			t.floor = floor
		}
		if perChar > 0 {
			t.perChar = perChar
		}
	}
}

// NewTimer returns a Timer using [DefaultMinReadingTime] and
// [DefaultPerCharTime] unless overridden.
func NewTimer(opts ...TimerOption) *Timer {
	t := &Timer{floor: DefaultMinReadingTime, perChar: DefaultPerCharTime}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Duration returns the reading time for text.
func (t *Timer) Duration(text string) time.Duration {
	return ReadingTime(text, t.floor, t.perChar)
}

// Play schedules done after the reading time unless ctx ends first.
func (t *Timer) Play(ctx context.Context, u Utterance, done func()) {
	d := t.Duration(u.Text)
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			done()
		}
	}()
}

var _ Backend = (*Timer)(nil)
