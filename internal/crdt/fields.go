package crdt

import (
	"fmt"
	"maps"
	"slices"
)

// Fields is the attribute map of an entity, keyed by field name.
type Fields map[string]Register

// Merge returns the union of f and other with overlapping names merged
// register by register. Names are visited in sorted order so the first
// reported error is stable.
func (f Fields) Merge(other Fields) (Fields, error) {
	out := make(Fields, len(f)+len(other))
	maps.Copy(out, f)

	for _, name := range slices.Sorted(maps.Keys(other)) {
		theirs := other[name]
		mine, ok := out[name]
		if !ok {
			out[name] = theirs
			continue
		}
		merged, err := mine.Merge(theirs)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = merged
	}
	return out, nil
}

// Plain flattens f into name -> plain value, the shape handed to query
// results.
func (f Fields) Plain() map[string]any {
	out := make(map[string]any, len(f))
	for name, r := range f {
		out[name] = PlainValue(r.Value)
	}
	return out
}
