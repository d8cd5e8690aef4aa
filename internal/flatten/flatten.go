// Package flatten normalizes nested provider payloads into flat
// path→value attribute maps.
package flatten

import (
	"fmt"
	"strconv"
)

// MaxDepth bounds nesting. Provider payloads deeper than this are
// malformed, not meaningful.
const MaxDepth = 8

// DepthError reports a payload nested beyond MaxDepth.
type DepthError struct {
	Path string
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("flatten: %q exceeds maximum nesting depth %d", e.Path, MaxDepth)
}

// Map flattens nested maps and slices into dot-separated paths. Slice
// elements key by index. Scalars pass through unchanged, so
// {"address": {"suburb": "X"}} becomes {"address.suburb": "X"}.
func Map(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if err := walk(out, k, v, 1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func walk(out map[string]any, path string, v any, depth int) error {
	if depth > MaxDepth {
		return &DepthError{Path: path}
	}

	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return nil
		}
		for k, inner := range val {
			if err := walk(out, path+"."+k, inner, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for i, inner := range val {
			if err := walk(out, path+"."+strconv.Itoa(i), inner, depth+1); err != nil {
				return err
			}
		}
	default:
		out[path] = v
	}
	return nil
}
