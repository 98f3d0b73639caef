package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ResponseSchema describes Response. Categories are not enumerated: an
// unknown category is handled by the caller rather than failing the batch.
func ResponseSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"categorizations"},
		"properties": map[string]any{
			"categorizations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"transaction_id", "category", "confidence"},
					"properties": map[string]any{
						"transaction_id": map[string]any{"type": "integer", "minimum": 1},
						"category":       map[string]any{"type": "string", "minLength": 1},
						"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
						"rule_pattern":   map[string]any{"type": []string{"string", "null"}},
						"reasoning":      map[string]any{"type": []string{"string", "null"}},
					},
				},
			},
		},
	}
}

var (
	responseSchemaOnce sync.Once
	responseSchema     *jsonschema.Schema
	responseSchemaErr  error
)

func compiledResponseSchema() (*jsonschema.Schema, error) {
	responseSchemaOnce.Do(func() {
		responseSchema, responseSchemaErr = CompileSchema("response.json", ResponseSchema())
	})
	return responseSchema, responseSchemaErr
}

// CompileSchema compiles a schema held as a generic map.
func CompileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(name)
}

// DecodeResponse validates model output against ResponseSchema and decodes it.
func DecodeResponse(raw string) ([]Result, error) {
	schema, err := compiledResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}

	clean := []byte(cleanModelJSON(raw))
	var v any
	if err := json.Unmarshal(clean, &v); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("response does not match schema: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(clean, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.Categorizations, nil
}
