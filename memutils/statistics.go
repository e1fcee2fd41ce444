package memutils

import "math"

// Statistics summarizes the live backing allocations of a single memory pool
// category, for budget accounting by a resource cache.
type Statistics struct {
	// BufferCount is the number of logical buffers currently backed from this category
	BufferCount int
	// AllocationCount is the number of physical allocations the manager
	// currently holds references to, including transient staging allocations
	// while a staged upload is in progress. Allocations substituted out of a
	// buffer leave the budget immediately; the device keeps them alive until
	// the in-flight work that reads them retires
	AllocationCount int
	// AllocationBytes is the total capacity of the live allocations
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.BufferCount = 0
	s.AllocationCount = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
}

func (s *Statistics) RemoveAllocation(size int) {
	s.AllocationCount--
	s.AllocationBytes -= size
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BufferCount += other.BufferCount
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics augments Statistics with allocation-size extremes for
// the detailed stats dump.
type DetailedStatistics struct {
	Statistics
	AllocationSizeMin int
	AllocationSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
}

func (s *DetailedStatistics) AddDetailedAllocation(size int) {
	s.AddAllocation(size)

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.AddStatistics(&other.Statistics)

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}
	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}
