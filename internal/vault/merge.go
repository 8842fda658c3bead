package vault

import (
	"encoding/json"
	"fmt"
)

// mergePayloads merges two JSON documents deterministically:
//   - objects merge key-wise, overlay winning conflicts
//   - a null overlay value deletes the key
//   - arrays and scalars are replaced wholesale by the overlay
func mergePayloads(base, overlay json.RawMessage) (json.RawMessage, error) {
	var baseVal, overlayVal interface{}
	if err := json.Unmarshal(base, &baseVal); err != nil {
		return nil, fmt.Errorf("failed to decode base payload: %w", err)
	}
	if err := json.Unmarshal(overlay, &overlayVal); err != nil {
		return nil, fmt.Errorf("failed to decode overlay payload: %w", err)
	}

	merged := mergeValues(baseVal, overlayVal)
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged payload: %w", err)
	}
	return out, nil
}

func mergeValues(base, overlay interface{}) interface{} {
	baseObj, baseOK := base.(map[string]interface{})
	overlayObj, overlayOK := overlay.(map[string]interface{})
	if !baseOK || !overlayOK {
		return overlay
	}

	out := make(map[string]interface{}, len(baseObj)+len(overlayObj))
	for k, v := range baseObj {
		out[k] = v
	}
	for k, v := range overlayObj {
		if v == nil {
			delete(out, k)
			continue
		}
		if existing, ok := out[k]; ok {
			out[k] = mergeValues(existing, v)
		} else {
			out[k] = v
		}
	}
	return out
}
