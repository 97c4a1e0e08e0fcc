package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"tasksnap/internal/model"
)

// ErrInvalid is returned by Decode when the data is not a well-formed
// artifact: malformed JSON, wrong top-level shape, or no exportMetadata.
var ErrInvalid = errors.New("invalid snapshot artifact")

// artifactSchema is the minimal structural contract for an artifact. Only
// exportMetadata is required; per-kind arrays may be absent.
const artifactSchema = `{
  "type": "object",
  "required": ["exportMetadata"],
  "properties": {
    "tasks":          {"type": "array", "items": {"type": "object"}},
    "focusSessions":  {"type": "array", "items": {"type": "object"}},
    "sharedSpaces":   {"type": "array", "items": {"type": "object"}},
    "spaceMembers":   {"type": "array", "items": {"type": "object"}},
    "invitations":    {"type": "array", "items": {"type": "object"}},
    "exportMetadata": {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(artifactSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parsing artifact schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		c.DefaultDraft(jsonschema.Draft2020)
		if err := c.AddResource("artifact.json", doc); err != nil {
			schemaErr = fmt.Errorf("loading artifact schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("artifact.json")
	})
	return schema, schemaErr
}

// Encode writes d as indented UTF-8 JSON.
func Encode(w io.Writer, d *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

// Marshal returns the encoded form of d.
func Marshal(d *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses and validates an artifact. Any structural problem is
// reported as ErrInvalid.
func Decode(data []byte) (*Document, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if d.ExportMetadata == nil {
		return nil, fmt.Errorf("%w: exportMetadata is null", ErrInvalid)
	}

	top, _ := inst.(map[string]any)
	d.present = make(map[model.Kind]bool, len(kindKeys))
	for kind, key := range kindKeys {
		if v, ok := top[key]; ok && v != nil {
			d.present[kind] = true
		}
	}

	return &d, nil
}
