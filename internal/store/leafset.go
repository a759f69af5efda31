package store

// UnionLeafChunks computes a node's leaf-chunk set as the deduplicated,
// order-preserving union of its children's leaf-chunk sets.
func UnionLeafChunks(childSets ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range childSets {
		for _, id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
