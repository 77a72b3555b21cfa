package server

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrTooManySessions is returned by [Sessions] when the session cap is reached.
var ErrTooManySessions = errors.New("server: too many sessions")

// SessionInfo holds metadata about a live session.
type SessionInfo struct {
	// SessionID is the engine's session id.
	SessionID string `json:"sessionId"`

	// SceneID is the scene the session was started on.
	SceneID string `json:"sceneId"`

	// StartedAt is when the connection was accepted.
	StartedAt time.Time `json:"startedAt"`

	// RemoteAddr is the peer address of the WebSocket connection.
	RemoteAddr string `json:"remoteAddr"`
}

type liveSession struct {
	info SessionInfo
	stop func()
}

// Sessions tracks the live WebSocket sessions of a [Server].
// All exported methods are safe for concurrent use.
type Sessions struct {
	mu   sync.Mutex
	max  int
	live map[string]liveSession
}

// NewSessions creates a registry that admits at most max concurrent
// sessions. A max of 0 means unlimited.
func NewSessions(max int) *Sessions {
	return &Sessions{max: max, live: make(map[string]liveSession)}
}

// add registers a session. stop is called by [Sessions.CloseAll].
func (s *Sessions) add(info SessionInfo, stop func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.max > 0 && len(s.live) >= s.max {
		return fmt.Errorf("%w (max=%d)", ErrTooManySessions, s.max)
	}
	if _, dup := s.live[info.SessionID]; dup {
		return fmt.Errorf("server: session %q already registered", info.SessionID)
	}
	s.live[info.SessionID] = liveSession{info: info, stop: stop}
	return nil
}

func (s *Sessions) remove(id string) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

// Full reports whether the session cap has been reached.
func (s *Sessions) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max > 0 && len(s.live) >= s.max
}

// Count returns the number of live sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// List returns the live sessions, oldest first.
func (s *Sessions) List() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.live))
	for _, l := range s.live {
		out = append(out, l.info)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.SessionID, b.SessionID))
	})
	return out
}

// CloseAll stops every live session. Sessions unregister themselves once
// their connection has been torn down.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	stops := make([]func(), 0, len(s.live))
	for _, l := range s.live {
		stops = append(stops, l.stop)
	}
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}
