package identity

import "github.com/Doitordead/Intel-irris/internal/blocks"

// Build registers every value of the given role fields across all block
// sets. Malformed strings are skipped.
func Build(roleFields []string, sets ...[]blocks.Block) *Cache {
	c := NewCache()
	for _, set := range sets {
		for _, block := range set {
			for _, field := range roleFields {
				for _, raw := range block.Values(field) {
					c.Update(raw)
				}
			}
		}
	}
	return c
}
