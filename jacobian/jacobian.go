// Package jacobian owns the symbolic sparsity pattern for one tier plus
// the single reusable numeric values buffer sized to its number of
// nonzeros. The pattern never changes within a tier; only Values is
// rewritten, once per Newton iteration.
package jacobian

import "github.com/ezpz-go/ezpz/sparsity"

// Cache holds a Pattern and its backing values slice. Zero-filling before
// each refresh is the caller's responsibility (refresh_jacobian writes
// every pattern position, so stale values would otherwise linger in
// positions a given iteration's constraint doesn't touch for a
// conditionally-disabled row, e.g. a deadbanded arc-angle row).
type Cache struct {
	pattern sparsity.Pattern
	values  []float64
}

// NewCache allocates a Values buffer sized to pattern.NNZ() once; no
// further allocation occurs for the lifetime of the cache.
func NewCache(pattern sparsity.Pattern) *Cache {
	return &Cache{
		pattern: pattern,
		values:  make([]float64, pattern.NNZ()),
	}
}

// View returns the read-only symbolic pattern.
func (o *Cache) View() sparsity.Pattern {
	return o.pattern
}

// MutableValues returns the mutable values slice, indexed by pattern
// slot, for refresh_jacobian to write into.
func (o *Cache) MutableValues() []float64 {
	return o.values
}

// ZeroFill clears the values buffer before a refresh pass.
func (o *Cache) ZeroFill() {
	for i := range o.values {
		o.values[i] = 0
	}
}
