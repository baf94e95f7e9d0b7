package state

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.schema.json
var schemaFiles embed.FS

const (
	globalSchemaURL    = "state://global.schema.json"
	workspaceSchemaURL = "state://workspace.schema.json"
)

// validator checks decoded records against the embedded JSON schemas.
type validator struct {
	global    *jsonschema.Schema
	workspace *jsonschema.Schema
}

func newValidator() (*validator, error) {
	global, err := compileSchema(globalSchemaURL, "schema/global.schema.json")
	if err != nil {
		return nil, err
	}

	workspace, err := compileSchema(workspaceSchemaURL, "schema/workspace.schema.json")
	if err != nil {
		return nil, err
	}

	return &validator{
		global:    global,
		workspace: workspace,
	}, nil
}

func compileSchema(url, name string) (*jsonschema.Schema, error) {
	data, err := schemaFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	return schema, nil
}

// validate converts a YAML-decoded document to JSON values and validates it.
func validate(schema *jsonschema.Schema, document any) error {
	data, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if err = schema.Validate(value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	return nil
}
