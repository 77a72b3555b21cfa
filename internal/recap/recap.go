// Package recap derives the end-of-scene summary from a session's choice
// history: up to three panel cards with quality badges, one improvement
// suggestion and a scene-independent transfer check.
package recap

import (
	"errors"
	"strings"

	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/scene"
)

// MaxPanels is the number of most recent picks shown as panels.
const MaxPanels = 3

// FallbackSuggestion is shown when the session made no picks at all.
const FallbackSuggestion = "Try a softer, playful line that keeps it light."

// Badge is the visual verdict attached to a panel.
type Badge string

const (
	BadgeOK   Badge = "ok"
	BadgeWarn Badge = "warn"
	BadgeBad  Badge = "bad"
)

// BadgeFor maps natural to ok, awkward to bad and everything else to warn.
func BadgeFor(q scene.Quality) Badge {
	switch q {
	case scene.QualityNatural:
		return BadgeOK
	case scene.QualityAwkward:
		return BadgeBad
	default:
		return BadgeWarn
	}
}

// Panel is one recap card.
type Panel struct {
	PickNodeID string        `json:"pickNodeId"`
	Text       string        `json:"text"`
	Quality    scene.Quality `json:"quality"`
	Badge      Badge         `json:"badge"`

	// Label is the upper-cased quality shown on the badge.
	Label string `json:"label"`
}

// Suggestion is the "better alternative" card.
type Suggestion struct {
	// PickNodeID is empty when Fallback is set.
	PickNodeID string `json:"pickNodeId,omitempty"`
	Text       string `json:"text"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// Summary is the complete recap.
type Summary struct {
	Ending     string        `json:"ending"`
	Picks      int           `json:"picks"`
	Panels     []Panel       `json:"panels"`
	Suggestion Suggestion    `json:"suggestion"`
	Transfer   TransferCheck `json:"transfer"`
}

// Generate builds the recap for a session that reached an ending. records
// must be in choice order.
func Generate(ending string, records []session.PickRecord) Summary {
	return Summary{
		Ending:     ending,
		Picks:      len(records),
		Panels:     Panels(records),
		Suggestion: Suggest(records),
		Transfer:   Transfer(),
	}
}

// Panels renders the last [MaxPanels] records, oldest first.
func Panels(records []session.PickRecord) []Panel {
	tail := records[max(0, len(records)-MaxPanels):]
	panels := make([]Panel, 0, len(tail))
	for _, r := range tail {
		label := string(r.ChosenQuality)
		if label == "" {
			label = string(scene.QualityOff)
		}
		panels = append(panels, Panel{
			PickNodeID: r.PickNodeID,
			Text:       r.Chosen,
			Quality:    r.ChosenQuality,
			Badge:      BadgeFor(r.ChosenQuality),
			Label:      strings.ToUpper(label),
		})
	}
	return panels
}

// Suggest surfaces the natural alternative of the most recent awkward pick,
// else of the most recent pick, else [FallbackSuggestion].
func Suggest(records []session.PickRecord) Suggestion {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ChosenQuality == scene.QualityAwkward {
			return Suggestion{PickNodeID: records[i].PickNodeID, Text: records[i].Natural}
		}
	}
	if n := len(records); n > 0 {
		return Suggestion{PickNodeID: records[n-1].PickNodeID, Text: records[n-1].Natural}
	}
	return Suggestion{Text: FallbackSuggestion, Fallback: true}
}

// ErrUnknownChoice is returned by [TransferCheck.Answer] for an id outside
// the fixed choice set.
var ErrUnknownChoice = errors.New("recap: unknown transfer choice")

// TransferChoice is one candidate line of the transfer check.
type TransferChoice struct {
	ID      string        `json:"id"`
	Text    string        `json:"text"`
	Quality scene.Quality `json:"quality"`
}

// TransferCheck is a generalisation check shared by every scene.
type TransferCheck struct {
	Question string           `json:"question"`
	Choices  []TransferChoice `json:"choices"`
}

// TransferResult is the verdict for one answer.
type TransferResult struct {
	Choice  TransferChoice `json:"choice"`
	Correct bool           `json:"correct"`
}

// Transfer returns the fixed transfer check. Each call returns a fresh copy.
func Transfer() TransferCheck {
	return TransferCheck{
		Question: "Elevator, barely-known coworker: what’s the best line to keep it light?",
		Choices: []TransferChoice{
			{ID: "a", Text: "Long time no see. We should totally hang out this weekend.", Quality: scene.QualityAwkward},
			{ID: "b", Text: "Hey. How’s it going? Busy day?", Quality: scene.QualityNatural},
			{ID: "c", Text: "I am proceeding efficiently according to plan.", Quality: scene.QualityAwkward},
		},
	}
}

// Answer grades choice id. Selecting the natural line is the success
// condition.
func (tc TransferCheck) Answer(id string) (TransferResult, error) {
	for _, c := range tc.Choices {
		if c.ID == id {
			return TransferResult{Choice: c, Correct: c.Quality == scene.QualityNatural}, nil
		}
	}
	return TransferResult{}, ErrUnknownChoice
}
