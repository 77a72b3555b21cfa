package scene

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaDocument mirrors [Document] with nodes in their flat on-disk form so
// the reflected schema matches what authors write.
type schemaDocument struct {
	Scene Meta      `json:"scene"`
	Nodes []rawNode `json:"nodes" jsonschema:"minItems=1"`
}

// Schema returns the JSON Schema of a scene document. Structural rules that
// span nodes (unique ids, resolvable edges) are not expressible in the
// schema and are enforced by [Validate] instead.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&schemaDocument{})
	s.Title = "Parley scene document"
	return s
}

// SchemaJSON returns [Schema] encoded as indented JSON.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
