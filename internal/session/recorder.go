// Package session records the choices a player makes during one run of a
// scene.
//
// The [Recorder] is append-only: records are immutable once added and are
// only ever cleared wholesale when a session restarts.
package session

import (
	"sync"

	"github.com/MrWong99/parley/pkg/scene"
)

// PickRecord is the outcome of one decision point.
type PickRecord struct {
	PickNodeID     string        `json:"pickNodeId"`
	Prompt         string        `json:"prompt"`
	ChosenOptionID string        `json:"chosenOptionId"`
	Chosen         string        `json:"chosen"`
	ChosenQuality  scene.Quality `json:"chosenQuality"`

	// Natural is the text of the pick's natural alternative, surfaced in the
	// recap as the better line.
	Natural      string `json:"natural"`
	ChosenIsExit bool   `json:"chosenIsExit"`
}

// NewPickRecord derives the record for choosing o at pick node n.
func NewPickRecord(nodeID string, p *scene.Pick, o *scene.Option) PickRecord {
	r := PickRecord{
		PickNodeID:     nodeID,
		Prompt:         p.Prompt.En,
		ChosenOptionID: o.ID,
		Chosen:         o.En,
		ChosenQuality:  o.Quality,
		ChosenIsExit:   o.IsGracefulExit,
	}
	if alt := p.NaturalAlternative(); alt != nil {
		r.Natural = alt.En
	}
	return r
}

// Recorder accumulates [PickRecord]s in choice order. It is safe for
// concurrent use.
type Recorder struct {
	mu      sync.RWMutex
	records []PickRecord
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append adds r at the end of the history.
func (r *Recorder) Append(rec PickRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of the history in choice order.
func (r *Recorder) Records() []PickRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PickRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of records.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Last returns the most recent record.
func (r *Recorder) Last() (PickRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.records) == 0 {
		return PickRecord{}, false
	}
	return r.records[len(r.records)-1], true
}

// Reset discards the whole history. It is used only when a session restarts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
