package scene

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrSchema is matched by every [SchemaError] via [errors.Is].
var ErrSchema = errors.New("scene: schema error")

// SchemaError reports a scene document that is missing or cannot be parsed.
// It is fatal at load time and is surfaced as one top-level message.
type SchemaError struct {
	// Source names the file or reader the document came from.
	Source string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("scene: %v", e.Err)
	}
	return fmt.Sprintf("scene: %s: %v", e.Source, e.Err)
}

// Unwrap returns both [ErrSchema] and the underlying cause.
func (e *SchemaError) Unwrap() []error { return []error{ErrSchema, e.Err} }

// LoadOption configures [LoadFile] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	strict bool
}

// Strict rejects unknown keys at the document and scene-metadata level so
// typos surface as schema errors. Node bodies are always decoded leniently.
func Strict() LoadOption {
	return func(o *loadOptions) { o.strict = true }
}

// LoadFile reads and parses the scene document at path. YAML and JSON are
// both accepted.
func LoadFile(path string, opts ...LoadOption) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SchemaError{Source: path, Err: err}
	}
	defer f.Close()

	doc, err := decode(f, opts)
	if err != nil {
		return nil, &SchemaError{Source: path, Err: err}
	}
	return doc, nil
}

// LoadFromReader parses a scene document from r. The reader is consumed
// entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Document, error) {
	doc, err := decode(r, opts)
	if err != nil {
		return nil, &SchemaError{Err: err}
	}
	return doc, nil
}

func decode(r io.Reader, opts []LoadOption) (*Document, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(o.strict)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("document is empty")
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &doc, nil
}
