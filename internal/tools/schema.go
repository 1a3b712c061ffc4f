// ABOUTME: Component template catalog backing the get_component_schema tool
// ABOUTME: Returns ready-to-edit component JSON for each supported type

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// componentTemplates maps each supported component type to a minimal
// template an agent can copy into a components array and adjust.
var componentTemplates = map[string]json.RawMessage{
	"textfield": json.RawMessage(`{"type":"textfield","key":"textField","label":"Text Field","input":true,"tableView":true,"validate":{"required":false}}`),
	"textarea":  json.RawMessage(`{"type":"textarea","key":"textArea","label":"Text Area","input":true,"tableView":true,"rows":3,"validate":{"required":false}}`),
	"number":    json.RawMessage(`{"type":"number","key":"number","label":"Number","input":true,"tableView":true,"validate":{"required":false}}`),
	"password":  json.RawMessage(`{"type":"password","key":"password","label":"Password","input":true,"tableView":false,"protected":true}`),
	"email":     json.RawMessage(`{"type":"email","key":"email","label":"Email","input":true,"tableView":true,"validate":{"required":false}}`),
	"checkbox":  json.RawMessage(`{"type":"checkbox","key":"checkbox","label":"Checkbox","input":true,"tableView":false,"defaultValue":false}`),
	"select":    json.RawMessage(`{"type":"select","key":"select","label":"Select","input":true,"tableView":true,"widget":"choicesjs","data":{"values":[{"label":"Option A","value":"a"},{"label":"Option B","value":"b"}]}}`),
	"radio":     json.RawMessage(`{"type":"radio","key":"radio","label":"Radio","input":true,"tableView":false,"values":[{"label":"Yes","value":"yes"},{"label":"No","value":"no"}]}`),
	"button":    json.RawMessage(`{"type":"button","key":"submit","label":"Submit","input":true,"tableView":false,"action":"submit","theme":"primary","disableOnInvalid":true}`),
	"datetime":  json.RawMessage(`{"type":"datetime","key":"dateTime","label":"Date / Time","input":true,"tableView":false,"enableDate":true,"enableTime":true,"format":"yyyy-MM-dd hh:mm a"}`),
	"day":       json.RawMessage(`{"type":"day","key":"day","label":"Day","input":true,"tableView":false,"fields":{"day":{"type":"number"},"month":{"type":"select"},"year":{"type":"number"}}}`),
	"hidden":    json.RawMessage(`{"type":"hidden","key":"hidden","label":"Hidden","input":true,"tableView":false}`),
}

// componentTypes returns the supported type names in sorted order.
func componentTypes() []string {
	types := make([]string, 0, len(componentTemplates))
	for name := range componentTemplates {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

type componentSchemaInput struct {
	Type string `json:"type"`
}

// GetComponentSchema handles the get_component_schema tool. Without a type
// it lists the catalog; with one it returns that type's template.
func (t *FormTools) GetComponentSchema(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in componentSchemaInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if in.Type == "" {
		return json.Marshal(map[string]any{"types": componentTypes()})
	}

	tmpl, ok := componentTemplates[in.Type]
	if !ok {
		return nil, fmt.Errorf("unknown component type %q, use one of %v", in.Type, componentTypes())
	}
	return json.Marshal(map[string]any{"type": in.Type, "template": tmpl})
}
