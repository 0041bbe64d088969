package cache

import (
	"encoding/json"
	"fmt"
)

// Key builds the canonical cache key for a layer and its request parameters.
// Parameters are round-tripped through map marshalling, which emits object
// keys in sorted order at every nesting level, so two semantically equal
// parameter sets produce the same key regardless of original key order.
func Key(layerID string, params map[string]any) string {
	if len(params) == 0 {
		return fmt.Sprintf("layer:%s:{}", layerID)
	}

	canonical, err := json.Marshal(params)
	if err != nil {
		// Params always originate from decoded JSON, so this should not
		// happen; fall back to the empty set rather than a broken key.
		canonical = []byte("{}")
	}

	return fmt.Sprintf("layer:%s:%s", layerID, canonical)
}
