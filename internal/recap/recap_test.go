package recap_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/parley/internal/recap"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/scene"
)

func rec(id string, q scene.Quality, natural string) session.PickRecord {
	return session.PickRecord{PickNodeID: id, Chosen: "chose " + id, ChosenQuality: q, Natural: natural}
}

func TestBadgeFor(t *testing.T) {
	t.Parallel()
	tests := map[scene.Quality]recap.Badge{
		scene.QualityNatural: recap.BadgeOK,
		scene.QualityAwkward: recap.BadgeBad,
		scene.QualityOff:     recap.BadgeWarn,
		"":                   recap.BadgeWarn,
	}
	for q, want := range tests {
		if got := recap.BadgeFor(q); got != want {
			t.Errorf("BadgeFor(%q) = %q, want %q", q, got, want)
		}
	}
}

func TestPanels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		records []session.PickRecord
		wantIDs []string
	}{
		{name: "none", records: nil, wantIDs: []string{}},
		{name: "one", records: []session.PickRecord{rec("p1", scene.QualityNatural, "")}, wantIDs: []string{"p1"}},
		{
			name: "more than three keeps the last three",
			records: []session.PickRecord{
				rec("p1", scene.QualityNatural, ""),
				rec("p2", scene.QualityAwkward, ""),
				rec("p3", scene.QualityOff, ""),
				rec("p4", scene.QualityNatural, ""),
			},
			wantIDs: []string{"p2", "p3", "p4"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			panels := recap.Panels(tc.records)
			if len(panels) != len(tc.wantIDs) {
				t.Fatalf("panels: got %d, want %d", len(panels), len(tc.wantIDs))
			}
			for i, id := range tc.wantIDs {
				if panels[i].PickNodeID != id {
					t.Errorf("panel %d: got %q, want %q", i, panels[i].PickNodeID, id)
				}
			}
		})
	}

	p := recap.Panels([]session.PickRecord{rec("p", scene.QualityAwkward, "")})[0]
	if p.Badge != recap.BadgeBad || p.Label != "AWKWARD" || p.Text != "chose p" {
		t.Errorf("panel rendering: %+v", p)
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		records []session.PickRecord
		want    recap.Suggestion
	}{
		{
			name: "most recent awkward wins",
			records: []session.PickRecord{
				rec("p1", scene.QualityAwkward, "alt1"),
				rec("p2", scene.QualityAwkward, "alt2"),
				rec("p3", scene.QualityNatural, "alt3"),
			},
			want: recap.Suggestion{PickNodeID: "p2", Text: "alt2"},
		},
		{
			name: "no awkward uses last pick",
			records: []session.PickRecord{
				rec("p1", scene.QualityOff, "alt1"),
				rec("p2", scene.QualityNatural, "alt2"),
			},
			want: recap.Suggestion{PickNodeID: "p2", Text: "alt2"},
		},
		{
			name: "no picks falls back",
			want: recap.Suggestion{Text: recap.FallbackSuggestion, Fallback: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := recap.Suggest(tc.records); got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestTransfer(t *testing.T) {
	t.Parallel()
	tc := recap.Transfer()
	if len(tc.Choices) != 3 {
		t.Fatalf("choices: got %d, want 3", len(tc.Choices))
	}
	natural := 0
	for _, c := range tc.Choices {
		if c.Quality == scene.QualityNatural {
			natural++
		}
	}
	if natural != 1 {
		t.Errorf("natural choices: got %d, want 1", natural)
	}

	res, err := tc.Answer("b")
	if err != nil || !res.Correct || res.Choice.Text != "Hey. How’s it going? Busy day?" {
		t.Errorf("answer b: %+v, %v", res, err)
	}
	if res, _ := tc.Answer("a"); res.Correct {
		t.Error("answer a should be incorrect")
	}
	if _, err := tc.Answer("z"); !errors.Is(err, recap.ErrUnknownChoice) {
		t.Errorf("unknown answer: got %v", err)
	}

	// The set is constant: mutating one copy does not leak.
	tc.Choices[0].Text = "changed"
	if recap.Transfer().Choices[0].Text == "changed" {
		t.Error("Transfer must return a fresh copy")
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	s := recap.Generate("soft", []session.PickRecord{rec("p1", scene.QualityNatural, "alt")})
	if s.Ending != "soft" || s.Picks != 1 || len(s.Panels) != 1 {
		t.Fatalf("summary: %+v", s)
	}
	if s.Suggestion.Text != "alt" || len(s.Transfer.Choices) != 3 {
		t.Errorf("summary: %+v", s)
	}
}
