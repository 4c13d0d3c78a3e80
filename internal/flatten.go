package internal

import "fmt"

// Flatten collapses a decoded JSON object into a single-level map whose
// keys are dotted paths, so rule expressions can reference nested payload
// fields directly. `{"pull_request": {"merged": true}}` becomes
// `{"pull_request.merged": true}`. Array elements get indexed keys.
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenInto(out, fmt.Sprintf("%s.%s", path, key), child)
		}
	case []interface{}:
		out[path] = typed
		for i, child := range typed {
			flattenInto(out, fmt.Sprintf("%s[%d]", path, i), child)
		}
	default:
		out[path] = value
	}
}
