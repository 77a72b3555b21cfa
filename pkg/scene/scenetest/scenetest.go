// Package scenetest builds small, valid scene documents for tests.
//
// Every constructor returns a fresh document, so callers may mutate the
// result freely to produce single-defect variants.
package scenetest

import "github.com/MrWong99/parley/pkg/scene"

// Minimal returns the three-node scene n001 (npc) → n002 (pick) → n003
// (end, ending "soft"). Every option of n002 follows up to n003; option "c"
// is the graceful exit and n002 is a teasing beat.
func Minimal() *scene.Document {
	return &scene.Document{
		Scene: scene.Meta{
			ID:    "minimal",
			Title: scene.LocalizedText{En: "Minimal", Zh: "最小", Ja: "最小"},
		},
		Nodes: []scene.Node{
			NPC("n001", "maya", "Hi there.", "n002"),
			{
				ID:   "n002",
				Kind: scene.KindPick,
				Pick: &scene.Pick{
					Prompt:        scene.LocalizedText{En: "Say something."},
					IsTeasingBeat: true,
					Options: []scene.Option{
						Option("a", "Nice shoes.", scene.QualityNatural, "compliment", "n003"),
						Option("b", "I am proceeding efficiently.", scene.QualityAwkward, "deflect", "n003"),
						Exit("c", "I should get going.", "n003"),
					},
				},
			},
			End("n003", "soft", "She waves goodbye."),
		},
	}
}

// Branching returns a scene with two picks so tests can accumulate more
// than one record:
//
//	n001 npc → n002 pick → n003 npc → n004 pick → n005 end
//
// Option "c" of n002 exits early to n005.
func Branching() *scene.Document {
	return &scene.Document{
		Scene: scene.Meta{
			ID:    "branching",
			Title: scene.LocalizedText{En: "Branching"},
			Characters: map[string]scene.Character{
				"maya": {ID: "maya", DisplayName: "Maya"},
			},
		},
		Nodes: []scene.Node{
			NPC("n001", "maya", "Oh hey, you found the good coffee too?", "n002"),
			{
				ID:   "n002",
				Kind: scene.KindPick,
				Pick: &scene.Pick{
					Prompt: scene.LocalizedText{En: "Answer her."},
					Options: []scene.Option{
						Option("a", "Guilty.", scene.QualityNatural, "banter", "n003"),
						Option("b", "Coffee is a beverage.", scene.QualityOff, "literal", "n003"),
						Exit("c", "Enjoy it, see you.", "n005"),
					},
				},
			},
			NPC("n003", "maya", "Save some for the rest of us.", "n004"),
			{
				ID:   "n004",
				Kind: scene.KindPick,
				Pick: &scene.Pick{
					Prompt: scene.LocalizedText{En: "Wrap up."},
					Options: []scene.Option{
						Option("a", "Deal.", scene.QualityNatural, "agree", "n005"),
						Option("b", "We should totally hang out this weekend.", scene.QualityAwkward, "overreach", "n005"),
						Option("c", "Hmm.", scene.QualityOff, "stall", "n005"),
					},
				},
			},
			End("n005", "soft", "You head back to your desk."),
		},
	}
}

// NPC builds an npc node.
func NPC(id, speaker, line, next string) scene.Node {
	return scene.Node{
		ID:   id,
		Kind: scene.KindNPC,
		NPC: &scene.NPC{
			Speaker: speaker,
			Line:    scene.LocalizedText{En: line, Zh: "zh:" + line, Ja: "ja:" + line},
			Next:    next,
		},
	}
}

// End builds an end node.
func End(id, ending, line string) scene.Node {
	return scene.Node{
		ID:   id,
		Kind: scene.KindEnd,
		End:  &scene.End{Ending: ending, Line: scene.LocalizedText{En: line}},
	}
}

// Option builds a non-exit option.
func Option(id, text string, q scene.Quality, intent, followup string) scene.Option {
	return scene.Option{
		ID:            id,
		LocalizedText: scene.LocalizedText{En: text},
		Quality:       q,
		Intent:        intent,
		NPCReaction:   &scene.Reaction{FollowupNode: followup},
	}
}

// Exit builds a well-formed graceful-exit option.
func Exit(id, text, followup string) scene.Option {
	o := Option(id, text, scene.QualityNatural, scene.IntentExit, followup)
	o.IsGracefulExit = true
	return o
}
