package resolver

// CollectPlaceholders recursively walks value and returns the inner
// expression of every `${...}` placeholder found in any string it
// contains, with duplicates kept. Slice elements are visited in order; map
// entries in Go's unspecified map order. Used by
// common/graph to discover node dependencies without resolving anything,
// via the same recursive visitor shape used to resolve values.
func CollectPlaceholders(value any) []string {
	var out []string
	collect(value, &out)
	return out
}

func collect(value any, out *[]string) {
	switch v := value.(type) {
	case string:
		for _, m := range placeholderRe.FindAllStringSubmatch(v, -1) {
			if len(m) == 2 {
				*out = append(*out, m[1])
			}
		}
	case map[string]any:
		for _, child := range v {
			collect(child, out)
		}
	case []any:
		for _, child := range v {
			collect(child, out)
		}
	}
}
