package protocol

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schemas holds the compiled wire-message schemas. The gateway validates
// inbound COMMAND frames before routing them.
type Schemas struct {
	Command *jsonschema.Schema
	Result  *jsonschema.Schema
	Notify  *jsonschema.Schema
}

func CompileSchemas(dir string) (*Schemas, error) {
	compile := func(name string) (*jsonschema.Schema, error) {
		s, err := jsonschema.Compile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		return s, nil
	}

	var (
		s   Schemas
		err error
	)
	if s.Command, err = compile("command.schema.json"); err != nil {
		return nil, err
	}
	if s.Result, err = compile("result.schema.json"); err != nil {
		return nil, err
	}
	if s.Notify, err = compile("notify.schema.json"); err != nil {
		return nil, err
	}
	return &s, nil
}

// ValidateCommand checks a raw COMMAND frame against the schema.
func (s *Schemas) ValidateCommand(raw []byte) error {
	if s == nil || s.Command == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Command.Validate(v)
}
