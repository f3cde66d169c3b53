package record

// WalkStrings visits every key/value entry of every map in the attribute
// tree (nested-map values included), recursing into nested maps and
// slices, and replaces the value in place when visit returns
// (newValue, true); a replaced value is not descended into. Used by the sanitizer for
// key-based redaction without resorting to untyped reflection tricks.
func WalkStrings(a Attrs, visit func(key string, value any) (any, bool)) {
	walkMap(a, visit)
}

func walkMap(m map[string]any, visit func(key string, value any) (any, bool)) {
	for k, v := range m {
		if replacement, ok := visit(k, v); ok {
			m[k] = replacement
			continue
		}
		walkValue(v, visit)
	}
}

func walkValue(v any, visit func(key string, value any) (any, bool)) {
	switch t := v.(type) {
	case map[string]any:
		walkMap(t, visit)
	case []any:
		for i, item := range t {
			if nested, ok := item.(map[string]any); ok {
				walkMap(nested, visit)
			} else if _, ok := item.([]any); ok {
				walkValue(item, visit)
			}
			_ = i
		}
	}
}
