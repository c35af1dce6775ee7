package modules

import (
	"math"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

// ValidateParams checks params against InputSchema.
// - Required fields: returns error if missing
// - Type check: verifies value matches declared property type
// - Null values: treated as absent and dropped
// Returns validated params (shallow copy) or error.
func ValidateParams(schema InputSchema, params map[string]any) (map[string]any, error) {
	validated := make(map[string]any, len(params))
	for key, val := range params {
		if val == nil {
			continue
		}
		validated[key] = val
	}

	// Check required fields
	var missing []string
	for _, key := range schema.Required {
		val, exists := validated[key]
		if !exists {
			missing = append(missing, key)
			continue
		}
		// Check for zero-value strings on required fields
		if s, ok := val.(string); ok && s == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Errorf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}

	// Type check provided params against schema properties
	for key, val := range validated {
		prop, declared := schema.Properties[key]
		if !declared {
			// Extra params not in schema are passed through (lenient)
			continue
		}
		if err := checkProperty(key, val, prop); err != nil {
			return nil, err
		}
	}

	return validated, nil
}

func checkProperty(key string, val any, prop Property) error {
	if err := checkType(key, val, prop.Type); err != nil {
		return err
	}
	if len(prop.Enum) > 0 {
		if s, _ := val.(string); !slices.Contains(prop.Enum, s) {
			return errors.Errorf("parameter %q: must be one of %s", key, strings.Join(prop.Enum, ", "))
		}
	}
	if prop.Type == "array" && prop.Items != nil {
		for i, item := range val.([]any) {
			if err := checkType(key, item, prop.Items.Type); err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
		}
	}
	return nil
}

// checkType verifies that val matches the expected JSON Schema type.
func checkType(key string, val any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := val.(string); !ok {
			return errors.Errorf("parameter %q: expected string, got %T", key, val)
		}
	case "number":
		// JSON numbers arrive as float64
		if _, ok := val.(float64); !ok {
			return errors.Errorf("parameter %q: expected number, got %T", key, val)
		}
	case "integer":
		f, ok := val.(float64)
		if !ok {
			return errors.Errorf("parameter %q: expected integer, got %T", key, val)
		}
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return errors.Errorf("parameter %q: expected integer, got %v", key, f)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return errors.Errorf("parameter %q: expected boolean, got %T", key, val)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return errors.Errorf("parameter %q: expected array, got %T", key, val)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return errors.Errorf("parameter %q: expected object, got %T", key, val)
		}
		// "" or unknown types: skip check (lenient)
	}
	return nil
}

// findTool looks up a tool by name from a tool list.
func findTool(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
