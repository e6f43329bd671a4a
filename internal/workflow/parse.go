package workflow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a workflow definition document (YAML or, since YAML is a
// superset of JSON, plain JSON too) into a resolved Definition.
func ParseYAML(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return FromRawDefinition(raw)
}

// ParseJSON decodes a workflow definition document encoded as JSON.
func ParseJSON(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return FromRawDefinition(raw)
}
