//go:build !debug_mem_utils

package ebuf

const debugAllocFillPattern uint8 = 0

func (a *BackingAllocator) fillAllocation(alloc *BackingAllocation, pattern uint8) {
}
