package ir

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// MarshalValues encodes resolved attribute values as a plain JSON object,
// the shape adapters consume. Values must be wholly known.
func MarshalValues(attrs map[string]cty.Value) ([]byte, error) {
	var obj cty.Value
	if len(attrs) == 0 {
		obj = cty.EmptyObjectVal
	} else {
		obj = cty.ObjectVal(attrs)
	}
	data, err := ctyjson.Marshal(obj, obj.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	return data, nil
}

// UnmarshalValues decodes a JSON object produced by an adapter back into
// attribute values, with types implied from the JSON structure.
func UnmarshalValues(data []byte) (map[string]cty.Value, error) {
	if len(data) == 0 {
		return map[string]cty.Value{}, nil
	}
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return nil, fmt.Errorf("failed to type adapter output: %w", err)
	}
	v, err := ctyjson.Unmarshal(data, ty)
	if err != nil {
		return nil, fmt.Errorf("failed to decode adapter output: %w", err)
	}
	if v.IsNull() {
		return map[string]cty.Value{}, nil
	}
	if !v.Type().IsObjectType() {
		return nil, fmt.Errorf("adapter output is %s, expected a JSON object", v.Type().FriendlyName())
	}
	if v.LengthInt() == 0 {
		return map[string]cty.Value{}, nil
	}
	return v.AsValueMap(), nil
}
