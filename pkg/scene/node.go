package scene

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// rawNode is the flat on-disk shape of a node. Every variant's fields live
// side by side and the "type" key selects which ones apply.
type rawNode struct {
	ID            string         `yaml:"id" json:"id"`
	Type          Kind           `yaml:"type" json:"type" jsonschema:"enum=npc,enum=pick,enum=end"`
	Speaker       string         `yaml:"speaker,omitempty" json:"speaker,omitempty"`
	Line          *LocalizedText `yaml:"line,omitempty" json:"line,omitempty"`
	Nonverbal     *Nonverbal     `yaml:"nonverbal,omitempty" json:"nonverbal,omitempty"`
	Next          *string        `yaml:"next,omitempty" json:"next,omitempty"`
	Prompt        *LocalizedText `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Options       []Option       `yaml:"options,omitempty" json:"options,omitempty"`
	IsTeasingBeat bool           `yaml:"isTeasingBeat,omitempty" json:"isTeasingBeat,omitempty"`
	Ending        string         `yaml:"ending,omitempty" json:"ending,omitempty"`
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (r rawNode) node() Node {
	n := Node{ID: r.ID, Kind: r.Type}
	switch r.Type {
	case KindNPC:
		n.NPC = &NPC{
			Speaker:   r.Speaker,
			Line:      deref(r.Line),
			Nonverbal: r.Nonverbal,
			Next:      deref(r.Next),
		}
	case KindPick:
		n.Pick = &Pick{
			Prompt:        deref(r.Prompt),
			Options:       r.Options,
			IsTeasingBeat: r.IsTeasingBeat,
		}
	case KindEnd:
		n.End = &End{
			Ending: r.Ending,
			Line:   deref(r.Line),
		}
	}
	return n
}

func (n Node) raw() rawNode {
	r := rawNode{ID: n.ID, Type: n.Kind}
	switch n.Kind {
	case KindNPC:
		if n.NPC != nil {
			r.Speaker = n.NPC.Speaker
			r.Line = &n.NPC.Line
			r.Nonverbal = n.NPC.Nonverbal
			r.Next = &n.NPC.Next
		}
	case KindPick:
		if n.Pick != nil {
			r.Prompt = &n.Pick.Prompt
			r.Options = n.Pick.Options
			r.IsTeasingBeat = n.Pick.IsTeasingBeat
		}
	case KindEnd:
		if n.End != nil {
			r.Ending = n.End.Ending
			r.Line = &n.End.Line
		}
	}
	return r
}

// UnmarshalYAML decodes the flat node form into the tagged union.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var r rawNode
	if err := value.Decode(&r); err != nil {
		return err
	}
	*n = r.node()
	return nil
}

// MarshalJSON encodes the node back into its flat document form.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.raw())
}

// UnmarshalJSON decodes the flat node form into the tagged union.
func (n *Node) UnmarshalJSON(data []byte) error {
	var r rawNode
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*n = r.node()
	return nil
}

// Line returns the English line spoken when entering the node, or "" for
// picks.
func (n *Node) Line() LocalizedText {
	switch n.Kind {
	case KindNPC:
		if n.NPC != nil {
			return n.NPC.Line
		}
	case KindEnd:
		if n.End != nil {
			return n.End.Line
		}
	}
	return LocalizedText{}
}
