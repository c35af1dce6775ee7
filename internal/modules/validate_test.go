package modules

import (
	"math"
	"testing"
)

func TestValidateParams_RequiredFields(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"service_type_id": {Type: "string", Description: "Service type ID"},
			"plan_id":         {Type: "string", Description: "Plan ID"},
		},
		Required: []string{"service_type_id", "plan_id"},
	}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
		errMsg  string
	}{
		{
			name:    "all required present",
			params:  map[string]any{"service_type_id": "1", "plan_id": "2"},
			wantErr: false,
		},
		{
			name:    "missing one required",
			params:  map[string]any{"service_type_id": "1"},
			wantErr: true,
			errMsg:  "missing required parameter(s): plan_id",
		},
		{
			name:    "missing all required",
			params:  map[string]any{},
			wantErr: true,
			errMsg:  "missing required parameter(s): service_type_id, plan_id",
		},
		{
			name:    "nil params",
			params:  nil,
			wantErr: true,
			errMsg:  "missing required parameter(s): service_type_id, plan_id",
		},
		{
			name:    "empty string for required field",
			params:  map[string]any{"service_type_id": "", "plan_id": "2"},
			wantErr: true,
			errMsg:  "missing required parameter(s): service_type_id",
		},
		{
			name:    "nil value for required field",
			params:  map[string]any{"service_type_id": nil, "plan_id": "2"},
			wantErr: true,
			errMsg:  "missing required parameter(s): service_type_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateParams(schema, tt.params)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				} else if err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestValidateParams_TypeCheck(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"title":    {Type: "string"},
			"sequence": {Type: "number"},
			"public":   {Type: "boolean"},
			"item_ids": {Type: "array", Items: &Property{Type: "string"}},
			"metadata": {Type: "object"},
			"status":   {Type: "string", Enum: []string{"C", "U", "D"}},
		},
	}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
		errMsg  string
	}{
		{
			name:    "all correct types",
			params:  map[string]any{"title": "Easter", "sequence": float64(5), "public": true, "item_ids": []any{"a"}, "metadata": map[string]any{"k": "v"}, "status": "C"},
			wantErr: false,
		},
		{
			name:    "string where number expected",
			params:  map[string]any{"sequence": "five"},
			wantErr: true,
			errMsg:  `parameter "sequence": expected number, got string`,
		},
		{
			name:    "number where string expected",
			params:  map[string]any{"title": float64(42)},
			wantErr: true,
			errMsg:  `parameter "title": expected string, got float64`,
		},
		{
			name:    "string where boolean expected",
			params:  map[string]any{"public": "true"},
			wantErr: true,
			errMsg:  `parameter "public": expected boolean, got string`,
		},
		{
			name:    "string where array expected",
			params:  map[string]any{"item_ids": "not-array"},
			wantErr: true,
			errMsg:  `parameter "item_ids": expected array, got string`,
		},
		{
			name:    "wrong array item type",
			params:  map[string]any{"item_ids": []any{"a", float64(2)}},
			wantErr: true,
			errMsg:  `item 1: parameter "item_ids": expected string, got float64`,
		},
		{
			name:    "string where object expected",
			params:  map[string]any{"metadata": "not-object"},
			wantErr: true,
			errMsg:  `parameter "metadata": expected object, got string`,
		},
		{
			name:    "value outside enum",
			params:  map[string]any{"status": "X"},
			wantErr: true,
			errMsg:  `parameter "status": must be one of C, U, D`,
		},
		{
			name:    "extra params not in schema pass through",
			params:  map[string]any{"unknown_field": "whatever"},
			wantErr: false,
		},
		{
			name:    "nil value skips type check",
			params:  map[string]any{"title": nil},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateParams(schema, tt.params)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				} else if err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestValidateParams_DropsNullValues(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"title": {Type: "string"},
			"name":  {Type: "string"},
		},
	}

	params := map[string]any{"title": "Sunday", "name": nil}
	got, err := ValidateParams(schema, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["name"]; ok {
		t.Error("null value should be dropped")
	}
	if got["title"] != "Sunday" {
		t.Errorf("title = %v", got["title"])
	}
	if _, ok := params["name"]; !ok {
		t.Error("input map must not be modified")
	}
}

func TestValidateParams_NoRequiredNoProperties(t *testing.T) {
	// Schema with no required and no properties (e.g., get_service_types)
	schema := InputSchema{
		Type:       "object",
		Properties: map[string]Property{},
	}

	result, err := ValidateParams(schema, map[string]any{})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result == nil {
		t.Errorf("expected non-nil result")
	}
}

func TestValidateParams_IntegerType(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"length": {Type: "integer"},
		},
	}

	// float64 is accepted for "integer" (JSON numbers are always float64)
	_, err := ValidateParams(schema, map[string]any{"length": float64(300)})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// string is rejected for "integer"
	_, err = ValidateParams(schema, map[string]any{"length": "three"})
	if err == nil {
		t.Errorf("expected error for string as integer")
	}

	// fractional values are rejected for "integer"
	for _, v := range []float64{2.7, -0.5, math.Inf(1), math.NaN()} {
		_, err = ValidateParams(schema, map[string]any{"length": v})
		if err == nil {
			t.Errorf("expected error for %v as integer", v)
		}
	}

	// a fractional value is still a valid "number"
	numberSchema := InputSchema{Type: "object", Properties: map[string]Property{"ratio": {Type: "number"}}}
	if _, err := ValidateParams(numberSchema, map[string]any{"ratio": 1.5}); err != nil {
		t.Errorf("unexpected error for number: %v", err)
	}
}

func TestFindTool(t *testing.T) {
	tools := []Tool{
		{Name: "get_plans", ID: "pco_services:get_plans"},
		{Name: "get_songs", ID: "pco_services:get_songs"},
	}

	tool, found := findTool(tools, "get_songs")
	if !found {
		t.Fatal("expected to find get_songs")
	}
	if tool.ID != "pco_services:get_songs" {
		t.Errorf("expected ID pco_services:get_songs, got %s", tool.ID)
	}

	_, found = findTool(tools, "nonexistent")
	if found {
		t.Error("expected not to find nonexistent tool")
	}
}
