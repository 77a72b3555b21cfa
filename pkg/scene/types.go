// Package scene provides the declarative dialogue-scene document used by
// Parley: its data model, a YAML/JSON loader, an id-indexed [Graph], the
// structural validator ([Validate]) and a polling file [Watcher] that swaps
// in a freshly validated graph when the document changes on disk.
//
// A scene is an ordered list of nodes. Every node is exactly one of an NPC
// line, a pick (three player options) or an ending. Documents are immutable
// once loaded; a reload replaces the whole [Graph].
//
// All exported types are safe for concurrent reads.
package scene

// DefaultStartNode is the node a session begins at when neither the document
// nor the caller names one.
const DefaultStartNode = "n001"

// IntentExit is the intent tag every graceful-exit option must carry.
const IntentExit = "exit"

// Kind discriminates the node variants.
type Kind string

const (
	// KindNPC is a spoken NPC line with a single outgoing edge.
	KindNPC Kind = "npc"

	// KindPick is a decision point offering exactly three options.
	KindPick Kind = "pick"

	// KindEnd terminates the scene.
	KindEnd Kind = "end"
)

// IsValid reports whether k is a recognised node kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindNPC, KindPick, KindEnd:
		return true
	}
	return false
}

// Quality rates how socially natural an option is.
type Quality string

const (
	QualityNatural Quality = "natural"
	QualityOff     Quality = "off"
	QualityAwkward Quality = "awkward"
)

// IsValid reports whether q is a recognised quality rating.
func (q Quality) IsValid() bool {
	switch q {
	case QualityNatural, QualityOff, QualityAwkward:
		return true
	}
	return false
}

// Lang selects the optional subtitle language shown next to the English line.
type Lang string

const (
	LangOff Lang = "off"
	LangZH  Lang = "zh"
	LangJA  Lang = "ja"
)

// Next returns the language that follows l in the off → zh → ja → off cycle.
func (l Lang) Next() Lang {
	switch l {
	case LangOff, "":
		return LangZH
	case LangZH:
		return LangJA
	default:
		return LangOff
	}
}

// LocalizedText is a line of text with mandatory English and optional
// Chinese and Japanese renderings.
type LocalizedText struct {
	En string `yaml:"en" json:"en"`
	Zh string `yaml:"zh,omitempty" json:"zh,omitempty"`
	Ja string `yaml:"ja,omitempty" json:"ja,omitempty"`
}

// In returns the subtitle for lang. English is never a subtitle, so
// [LangOff] and unknown languages yield the empty string.
func (t LocalizedText) In(lang Lang) string {
	switch lang {
	case LangZH:
		return t.Zh
	case LangJA:
		return t.Ja
	}
	return ""
}

// Nonverbal is a free-text cue bundle consumed only by presentation.
type Nonverbal struct {
	Face string `yaml:"face,omitempty" json:"face,omitempty"`
	Gaze string `yaml:"gaze,omitempty" json:"gaze,omitempty"`
	Beat string `yaml:"beat,omitempty" json:"beat,omitempty"`
}

// NeutralCues is substituted when a reaction declares no cues of its own.
var NeutralCues = Nonverbal{Face: "neutral", Gaze: "neutral", Beat: "neutral"}

// Document is the complete scene file.
type Document struct {
	Scene Meta   `yaml:"scene" json:"scene"`
	Nodes []Node `yaml:"nodes" json:"nodes"`
}

// Meta holds scene-level metadata.
type Meta struct {
	ID    string        `yaml:"id" json:"id"`
	Title LocalizedText `yaml:"title" json:"title"`

	// Start names the first node. Empty means [DefaultStartNode].
	Start string `yaml:"start,omitempty" json:"start,omitempty"`

	Context    *Context             `yaml:"context,omitempty" json:"context,omitempty"`
	Characters map[string]Character `yaml:"characters,omitempty" json:"characters,omitempty"`
}

// Context carries optional scene tags shown by presentation layers.
type Context struct {
	Location     string   `yaml:"location,omitempty" json:"location,omitempty"`
	Time         string   `yaml:"time,omitempty" json:"time,omitempty"`
	Relationship string   `yaml:"relationship,omitempty" json:"relationship,omitempty"`
	Vibe         []string `yaml:"vibe,omitempty" json:"vibe,omitempty"`
}

// Tags returns the non-empty context tags in display order.
func (c *Context) Tags() []string {
	if c == nil {
		return nil
	}
	var tags []string
	for _, s := range []string{c.Location, c.Time, c.Relationship} {
		if s != "" {
			tags = append(tags, s)
		}
	}
	for _, v := range c.Vibe {
		if v != "" {
			tags = append(tags, v)
		}
	}
	return tags
}

// Character describes a speaker referenced by NPC nodes.
type Character struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"displayName,omitempty" json:"displayName,omitempty"`

	// Extra keeps author-defined attributes the engine does not interpret.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// Node is a tagged union over the three node variants. Exactly one of NPC,
// Pick or End is non-nil when Kind is valid; a node whose type is missing or
// unknown keeps its raw Kind and no payload so the validator can report it.
type Node struct {
	ID   string
	Kind Kind

	NPC  *NPC
	Pick *Pick
	End  *End
}

// NPC is a spoken NPC line.
type NPC struct {
	Speaker   string        `yaml:"speaker" json:"speaker"`
	Line      LocalizedText `yaml:"line" json:"line"`
	Nonverbal *Nonverbal    `yaml:"nonverbal,omitempty" json:"nonverbal,omitempty"`
	Next      string        `yaml:"next" json:"next"`
}

// Pick is a decision point.
type Pick struct {
	Prompt        LocalizedText `yaml:"prompt" json:"prompt"`
	Options       []Option      `yaml:"options" json:"options"`
	IsTeasingBeat bool          `yaml:"isTeasingBeat,omitempty" json:"isTeasingBeat,omitempty"`
}

// End terminates the scene.
type End struct {
	Ending string        `yaml:"ending" json:"ending"`
	Line   LocalizedText `yaml:"line" json:"line"`
}

// Option is one selectable player line. The English text and its
// translations sit directly on the option object.
type Option struct {
	ID string `yaml:"id" json:"id"`

	LocalizedText `yaml:",inline"`

	Quality        Quality        `yaml:"quality" json:"quality"`
	Intent         string         `yaml:"intent" json:"intent"`
	Tone           []string       `yaml:"tone,omitempty" json:"tone,omitempty"`
	IsGracefulExit bool           `yaml:"isGracefulExit" json:"isGracefulExit"`
	NPCReaction    *Reaction      `yaml:"npcReaction" json:"npcReaction"`
	Explain        *LocalizedText `yaml:"explain,omitempty" json:"explain,omitempty"`
}

// Followup returns the node id the option leads to, or "" when the option
// has no reaction.
func (o *Option) Followup() string {
	if o.NPCReaction == nil {
		return ""
	}
	return o.NPCReaction.FollowupNode
}

// Cues returns the reaction cue bundle, or [NeutralCues] when none is
// declared.
func (o *Option) Cues() Nonverbal {
	if o.NPCReaction == nil || o.NPCReaction.Nonverbal == nil {
		return NeutralCues
	}
	return *o.NPCReaction.Nonverbal
}

// Reaction is the NPC's response edge for an option.
type Reaction struct {
	FollowupNode string     `yaml:"followupNode" json:"followupNode"`
	Nonverbal    *Nonverbal `yaml:"nonverbal,omitempty" json:"nonverbal,omitempty"`
}

// Option returns the option with the given id.
func (p *Pick) Option(id string) (*Option, bool) {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i], true
		}
	}
	return nil, false
}

// NaturalAlternative picks the option surfaced in recaps as the better line:
// the first natural option that is not an exit, else the first natural
// option, else the first option. It returns nil only for an empty pick.
func (p *Pick) NaturalAlternative() *Option {
	for i := range p.Options {
		if p.Options[i].Quality == QualityNatural && p.Options[i].Intent != IntentExit {
			return &p.Options[i]
		}
	}
	for i := range p.Options {
		if p.Options[i].Quality == QualityNatural {
			return &p.Options[i]
		}
	}
	if len(p.Options) > 0 {
		return &p.Options[0]
	}
	return nil
}

// GracefulExits counts options flagged as graceful exits.
func (p *Pick) GracefulExits() int {
	n := 0
	for _, o := range p.Options {
		if o.IsGracefulExit {
			n++
		}
	}
	return n
}
