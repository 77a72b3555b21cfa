package scene

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is matched by every [ValidationError] via [errors.Is].
var ErrInvalid = errors.New("scene: validation failed")

// Rule names the structural rule an [Issue] violates.
type Rule string

const (
	RuleSceneID       Rule = "scene_id"
	RuleSceneTitle    Rule = "scene_title"
	RuleNodesEmpty    Rule = "nodes_empty"
	RuleNodeID        Rule = "node_id"
	RuleDuplicateID   Rule = "duplicate_id"
	RuleNodeType      Rule = "node_type"
	RuleRequiredField Rule = "required_field"
	RuleDanglingEdge  Rule = "dangling_edge"
	RuleOptionArity   Rule = "option_arity"
	RuleTeasingExits  Rule = "teasing_exit_count"
	RuleGracefulExit  Rule = "graceful_exit"
	RuleStartNode     Rule = "start_node"
)

// Issue is one structural defect found by [Validate].
type Issue struct {
	Rule     Rule   `json:"rule"`
	NodeID   string `json:"node_id,omitempty"`
	OptionID string `json:"option_id,omitempty"`
	Message  string `json:"message"`
}

func (i Issue) String() string { return i.Message }

// Issues is the ordered validation report.
type Issues []Issue

// Strings returns the human-readable report lines.
func (is Issues) Strings() []string {
	out := make([]string, len(is))
	for i, issue := range is {
		out[i] = issue.Message
	}
	return out
}

// Err returns nil for an empty report and a [*ValidationError] otherwise.
func (is Issues) Err() error {
	if len(is) == 0 {
		return nil
	}
	return &ValidationError{Issues: is}
}

// Has reports whether any issue breaks rule on nodeID.
func (is Issues) Has(rule Rule, nodeID string) bool {
	for _, i := range is {
		if i.Rule == rule && i.NodeID == nodeID {
			return true
		}
	}
	return false
}

// ValidationError aggregates every rule violation in a document.
type ValidationError struct {
	Issues Issues
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scene: %d validation issue(s):\n%s", len(e.Issues), strings.Join(e.Issues.Strings(), "\n"))
}

// Is matches [ErrInvalid].
func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Validate checks doc against every structural rule and returns all
// violations in a stable order. It never stops at the first defect. start is
// the designated start node; empty means the document's own start or
// [DefaultStartNode].
func Validate(doc *Document, start string) Issues {
	v := validator{doc: doc}
	if doc == nil {
		v.add(RuleSceneID, "", "", "scene meta missing: scene.id")
		v.add(RuleSceneTitle, "", "", "scene meta missing: title.en")
		v.add(RuleNodesEmpty, "", "", "scene nodes missing or empty")
		return v.issues
	}
	v.ids = make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.ID != "" {
			v.ids[n.ID] = true
		}
	}

	v.checkMeta()
	v.checkIdentity()
	v.checkRequired()
	v.checkEdges()
	v.checkArity()
	v.checkTeasing()
	v.checkGracefulExits()
	v.checkStart(resolveStart(doc, start))
	return v.issues
}

type validator struct {
	doc    *Document
	ids    map[string]bool
	issues Issues
}

func (v *validator) add(rule Rule, nodeID, optionID, format string, args ...any) {
	v.issues = append(v.issues, Issue{
		Rule:     rule,
		NodeID:   nodeID,
		OptionID: optionID,
		Message:  fmt.Sprintf(format, args...),
	})
}

func orUnknown(id string) string {
	if id == "" {
		return "?"
	}
	return id
}

func (v *validator) checkMeta() {
	if v.doc.Scene.ID == "" {
		v.add(RuleSceneID, "", "", "scene meta missing: scene.id")
	}
	if v.doc.Scene.Title.En == "" {
		v.add(RuleSceneTitle, "", "", "scene meta missing: title.en")
	}
	if len(v.doc.Nodes) == 0 {
		v.add(RuleNodesEmpty, "", "", "scene nodes missing or empty")
	}
}

func (v *validator) checkIdentity() {
	seen := make(map[string]bool, len(v.doc.Nodes))
	for i, n := range v.doc.Nodes {
		if n.ID == "" {
			v.add(RuleNodeID, "", "", "node #%d missing id", i)
		} else {
			if seen[n.ID] {
				v.add(RuleDuplicateID, n.ID, "", "duplicate node id: %s", n.ID)
			}
			seen[n.ID] = true
		}
		switch {
		case n.Kind == "":
			v.add(RuleNodeType, n.ID, "", "node %s missing type", orUnknown(n.ID))
		case !n.Kind.IsValid():
			v.add(RuleNodeType, n.ID, "", "node %s has unknown type %q", orUnknown(n.ID), n.Kind)
		}
	}
}

func (v *validator) checkRequired() {
	for _, n := range v.doc.Nodes {
		switch n.Kind {
		case KindNPC:
			if npcOf(n).Speaker == "" {
				v.add(RuleRequiredField, n.ID, "", "npc node %s missing speaker", orUnknown(n.ID))
			}
			if npcOf(n).Line.En == "" {
				v.add(RuleRequiredField, n.ID, "", "npc node %s missing line.en", orUnknown(n.ID))
			}
			if npcOf(n).Next == "" {
				v.add(RuleRequiredField, n.ID, "", "npc node %s missing next", orUnknown(n.ID))
			}
		case KindPick:
			if pickOf(n).Prompt.En == "" {
				v.add(RuleRequiredField, n.ID, "", "pick node %s missing prompt.en", orUnknown(n.ID))
			}
			for _, o := range pickOf(n).Options {
				oid := orUnknown(o.ID)
				if o.ID == "" {
					v.add(RuleRequiredField, n.ID, "", "pick node %s option missing id", orUnknown(n.ID))
				}
				if o.En == "" {
					v.add(RuleRequiredField, n.ID, o.ID, "pick node %s option %s missing en", orUnknown(n.ID), oid)
				}
				switch {
				case o.Quality == "":
					v.add(RuleRequiredField, n.ID, o.ID, "pick node %s option %s missing quality", orUnknown(n.ID), oid)
				case !o.Quality.IsValid():
					v.add(RuleRequiredField, n.ID, o.ID, "pick node %s option %s has invalid quality %q", orUnknown(n.ID), oid, o.Quality)
				}
				if o.Intent == "" {
					v.add(RuleRequiredField, n.ID, o.ID, "pick node %s option %s missing intent", orUnknown(n.ID), oid)
				}
				if o.Followup() == "" {
					v.add(RuleRequiredField, n.ID, o.ID, "pick node %s option %s missing npcReaction.followupNode", orUnknown(n.ID), oid)
				}
			}
		case KindEnd:
			if endOf(n).Line.En == "" {
				v.add(RuleRequiredField, n.ID, "", "end node %s missing line.en", orUnknown(n.ID))
			}
			if endOf(n).Ending == "" {
				v.add(RuleRequiredField, n.ID, "", "end node %s missing ending", orUnknown(n.ID))
			}
		}
	}
}

func (v *validator) checkEdges() {
	for _, n := range v.doc.Nodes {
		switch n.Kind {
		case KindNPC:
			if next := npcOf(n).Next; next != "" && !v.ids[next] {
				v.add(RuleDanglingEdge, n.ID, "", "npc node %s next invalid: %s", orUnknown(n.ID), next)
			}
		case KindPick:
			for _, o := range pickOf(n).Options {
				if f := o.Followup(); f != "" && !v.ids[f] {
					v.add(RuleDanglingEdge, n.ID, o.ID, "pick node %s option %s followupNode invalid: %s", orUnknown(n.ID), orUnknown(o.ID), f)
				}
			}
		}
	}
}

func (v *validator) checkArity() {
	for _, n := range v.doc.Nodes {
		if n.Kind == KindPick && len(pickOf(n).Options) != 3 {
			v.add(RuleOptionArity, n.ID, "", "pick node %s must have exactly 3 options, found %d", orUnknown(n.ID), len(pickOf(n).Options))
		}
	}
}

func (v *validator) checkTeasing() {
	for _, n := range v.doc.Nodes {
		if n.Kind != KindPick || !pickOf(n).IsTeasingBeat {
			continue
		}
		if c := pickOf(n).GracefulExits(); c != 1 {
			v.add(RuleTeasingExits, n.ID, "", "teasing pick node %s must have exactly 1 graceful exit option, found %d", orUnknown(n.ID), c)
		}
	}
}

func (v *validator) checkGracefulExits() {
	for _, n := range v.doc.Nodes {
		if n.Kind != KindPick {
			continue
		}
		for _, o := range pickOf(n).Options {
			if !o.IsGracefulExit {
				continue
			}
			if o.Quality != QualityNatural {
				v.add(RuleGracefulExit, n.ID, o.ID, "graceful exit option must be quality natural: node %s option %s", orUnknown(n.ID), orUnknown(o.ID))
			}
			if o.Intent != IntentExit {
				v.add(RuleGracefulExit, n.ID, o.ID, "graceful exit option must have intent exit: node %s option %s", orUnknown(n.ID), orUnknown(o.ID))
			}
		}
	}
}

func (v *validator) checkStart(start string) {
	if !v.ids[start] {
		v.add(RuleStartNode, start, "", "start node %q not found", start)
	}
}

func resolveStart(doc *Document, override string) string {
	switch {
	case override != "":
		return override
	case doc != nil && doc.Scene.Start != "":
		return doc.Scene.Start
	default:
		return DefaultStartNode
	}
}

func npcOf(n Node) *NPC {
	if n.NPC == nil {
		return &NPC{}
	}
	return n.NPC
}

func pickOf(n Node) *Pick {
	if n.Pick == nil {
		return &Pick{}
	}
	return n.Pick
}

func endOf(n Node) *End {
	if n.End == nil {
		return &End{}
	}
	return n.End
}
