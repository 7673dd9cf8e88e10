package integrity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AlexZinkM/paygate/internal/storage"
)

// CriticalFileSpec describes one file the monitor polices.
type CriticalFileSpec struct {
	// Name is the file's base name and its key in backups and reports.
	Name     string
	Path     string
	Required bool
	// Schema is a JSON schema the content must satisfy.
	Schema string
	// DefaultContent is written when a required file is absent and nothing suggests it
	// ever held data. Nil means the file is never created automatically.
	DefaultContent []byte
}

const ledgerSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["txId", "status", "type"],
    "properties": {
      "txId": {"type": "string"},
      "status": {"type": "string"},
      "type": {"enum": ["payment", "release"]},
      "statusHistory": {"type": "array"}
    }
  }
}`

const addressBookSchema = `{
  "type": "object",
  "required": ["mnemonic", "activeAddresses"],
  "properties": {
    "mnemonic": {"type": "string"},
    "activeAddresses": {"type": "object"}
  }
}`

const indexMapSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "additionalProperties": {"type": "integer", "minimum": 0}
  }
}`

// LedgerSpec is the transaction log: required, defaults to an empty array.
func LedgerSpec(path string) CriticalFileSpec {
	return CriticalFileSpec{
		Name:           filepath.Base(path),
		Path:           path,
		Required:       true,
		Schema:         ledgerSchema,
		DefaultContent: []byte("[]"),
	}
}

// AddressBookSpec is the sealed mnemonic and active addresses. It holds the only copy
// of the mnemonic, so it is never generated.
func AddressBookSpec(path string) CriticalFileSpec {
	return CriticalFileSpec{
		Name:     filepath.Base(path),
		Path:     path,
		Required: true,
		Schema:   addressBookSchema,
	}
}

// IndexMapSpec is the address to derivation index cache. It can be rebuilt by
// re-derivation, so it is optional.
func IndexMapSpec(path string) CriticalFileSpec {
	return CriticalFileSpec{
		Name:           filepath.Base(path),
		Path:           path,
		Schema:         indexMapSchema,
		DefaultContent: []byte("{}"),
	}
}

// ErrSchema wraps content that parses but does not match its schema.
var ErrSchema = errors.New("schema validation failed")

// Validator checks file content against the compiled schema of each spec.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles every spec's schema.
func NewValidator(specs []CriticalFileSpec) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(specs))}
	for _, spec := range specs {
		if spec.Schema == "" {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(spec.Schema))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", spec.Name, err)
		}
		v.schemas[spec.Name] = schema
	}
	return v, nil
}

// Validate reports whether data is acceptable content for the file named source.
// It has the shape of a backup verifier.
func (v *Validator) Validate(source string, data []byte) error {
	data = bytes.TrimSpace(storage.TrimBOM(data))
	if len(data) == 0 {
		return storage.ErrEmpty
	}
	schema, ok := v.schemas[filepath.Base(source)]
	if !ok {
		if !json.Valid(data) {
			return fmt.Errorf("%w: invalid JSON", storage.ErrCorrupt)
		}
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %w: %s", storage.ErrCorrupt, ErrSchema, strings.Join(msgs, "; "))
}
