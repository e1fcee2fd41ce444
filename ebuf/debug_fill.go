//go:build debug_mem_utils

package ebuf

import (
	"fmt"
	"unsafe"
)

// debugAllocFillPattern is written across every new host-visible allocation
// when the debug_mem_utils build tag is present, so that reads of memory the
// caller never wrote are easy to identify.
const debugAllocFillPattern uint8 = 0xDC

func (a *BackingAllocator) fillAllocation(alloc *BackingAllocation, pattern uint8) {
	if !alloc.category.hostVisible() {
		// Device-local memory cannot be filled from the host
		return
	}

	data, err := alloc.Map(alloc.capacity)
	if err != nil {
		panic(fmt.Sprintf("failed when attempting to map memory during debug pattern fill: %+v", err))
	}

	dataSlice := ([]uint8)(unsafe.Slice((*uint8)(data), alloc.capacity))
	for i := 0; i < alloc.capacity; i++ {
		dataSlice[i] = pattern
	}

	alloc.Unmap(alloc.capacity)
}
