package plan

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
)

// EncodeProperties converts a property struct into the generic map stored in a Node.
// Field names follow the struct's json tags.
func EncodeProperties(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// DecodeProperties fills the property struct out points to from a Node's property map.
// Keys match json tags; numbers and strings convert loosely so YAML and JSON documents
// decode alike. Unknown keys are an error.
func DecodeProperties(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create property decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("failed to decode properties: %w", err)
	}
	return nil
}
