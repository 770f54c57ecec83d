package agent

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowsignal/flowsignal/rterrors"
)

// ValidateUpdates rejects any agent whose declared Updates field is not
// present in initialState, catching the typos spec §9 warns about before
// the run starts. It builds a JSON Schema describing the declared state
// shape (an object whose only allowed properties are initialState's keys)
// and validates each candidate field name against it, grounded on the
// teacher's registry/service.go schema-validation use.
func ValidateUpdates(agents map[string]Definition, initialState map[string]any) error {
	schema, err := compileStateShape(initialState)
	if err != nil {
		return rterrors.NewConfigError("compile state shape schema", err)
	}
	for name, def := range agents {
		if def.Updates == "" {
			continue
		}
		doc := map[string]any{def.Updates: true}
		if err := schema.Validate(doc); err != nil {
			return rterrors.NewConfigError(
				fmt.Sprintf("agent %q declares updates field %q which is not present in initial state", name, def.Updates),
				err,
			)
		}
	}
	return nil
}

func compileStateShape(initialState map[string]any) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(initialState))
	for k := range initialState {
		properties[k] = map[string]any{}
	}
	raw := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("state-shape.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("state-shape.json")
}
