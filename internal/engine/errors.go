package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/scene"
)

// Sentinel errors, one per error kind. Every error returned by an [Engine]
// action wraps exactly one of them and can be tested with [errors.Is].
var (
	// ErrValidation is returned by Start and Restart when the scene graph
	// failed validation. The wrapped [*scene.ValidationError] carries the full
	// report.
	ErrValidation = errors.New("engine: scene failed validation")

	// ErrInvalidChoice is returned when an option id does not belong to the
	// current pick. The session is not modified.
	ErrInvalidChoice = errors.New("engine: invalid choice")

	// ErrInvalidTransition is returned when an action does not apply to the
	// current phase or names a node that is not current. The session is not
	// modified.
	ErrInvalidTransition = errors.New("engine: invalid transition")

	// ErrRuntimeInvariant is returned when a transition target does not
	// resolve. It halts the session: every later action except Restart
	// returns the same error.
	ErrRuntimeInvariant = errors.New("engine: runtime invariant violation")

	// ErrAudioUnavailable is returned when audio is enabled without a
	// configured audio backend.
	ErrAudioUnavailable = errors.New("engine: audio backend unavailable")

	// ErrClosed is returned for actions issued after [Engine.Close].
	ErrClosed = errors.New("engine: closed")
)

// ErrorKind classifies action failures for transports and metrics.
type ErrorKind string

const (
	KindSchema            ErrorKind = "schema"
	KindValidation        ErrorKind = "validation"
	KindInvalidChoice     ErrorKind = "invalid_choice"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindRuntimeInvariant  ErrorKind = "runtime_invariant_violation"
	KindAudioUnavailable  ErrorKind = "audio_unavailable"
	KindClosed            ErrorKind = "closed"
	KindInternal          ErrorKind = "internal"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindInvalidChoice:
		return ErrInvalidChoice
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindRuntimeInvariant:
		return ErrRuntimeInvariant
	case KindAudioUnavailable:
		return ErrAudioUnavailable
	case KindClosed:
		return ErrClosed
	}
	return nil
}

// ActionError describes a rejected or failed engine action.
type ActionError struct {
	// Action is the name of the action that failed, e.g. "choose".
	Action string

	Kind     ErrorKind
	NodeID   string
	OptionID string

	// Err carries detail such as a [*scene.ValidationError]. It may be nil.
	Err error
}

func (e *ActionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "engine: %s: %s", e.Action, e.Kind)
	if e.NodeID != "" {
		fmt.Fprintf(&b, " (node %q", e.NodeID)
		if e.OptionID != "" {
			fmt.Fprintf(&b, ", option %q", e.OptionID)
		}
		b.WriteString(")")
	} else if e.OptionID != "" {
		fmt.Fprintf(&b, " (option %q)", e.OptionID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind's sentinel and the detail error.
func (e *ActionError) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf classifies err. It returns "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case errors.Is(err, scene.ErrSchema):
		return KindSchema
	case errors.Is(err, scene.ErrInvalid):
		return KindValidation
	}
	return KindInternal
}

func invalidTransition(action, nodeID, format string, args ...any) *ActionError {
	return &ActionError{
		Action: action,
		Kind:   KindInvalidTransition,
		NodeID: nodeID,
		Err:    fmt.Errorf(format, args...),
	}
}
