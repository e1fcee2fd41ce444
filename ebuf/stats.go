package ebuf

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/easel/memutils"
)

func printDetailedStatistics(json jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	json.End()
}

func (b *Buffer) printParameters(json *jwriter.ObjectState) {
	json.Name("Type").String(b.bufferType.String())
	json.Name("AccessPattern").String(b.accessPattern.String())
	json.Name("Size").Int(b.size)

	if b.backing != nil {
		json.Name("PoolCategory").String(b.backing.category.String())
		json.Name("State").String(b.backing.state.String())
	}

	if b.name != "" {
		json.Name("Name").String(b.name)
	}
}

// BuildStatsString writes the manager's budget statistics, and optionally
// every live buffer, as a JSON string.
func (m *Manager) BuildStatsString(detailed bool) string {
	m.logger.Debug("Manager::BuildStatsString")

	writer := jwriter.NewWriter()
	root := writer.Object()

	budgetObj := root.Name("Budget").Object()
	for category := PoolCategory(0); category < poolCategoryCount; category++ {
		stats := m.allocator.Budget(category)

		categoryObj := budgetObj.Name(category.String()).Object()
		categoryObj.Name("BufferCount").Int(stats.BufferCount)
		categoryObj.Name("AllocationCount").Int(stats.AllocationCount)
		categoryObj.Name("AllocationBytes").Int(stats.AllocationBytes)
		categoryObj.End()
	}
	budgetObj.End()

	if detailed {
		m.buffersMutex.RLock()

		var categoryStats [poolCategoryCount]memutils.DetailedStatistics
		for i := 0; i < poolCategoryCount; i++ {
			categoryStats[i].Clear()
		}
		for buffer := range m.buffers {
			if buffer.backing != nil {
				categoryStats[buffer.backing.category].AddDetailedAllocation(buffer.backing.capacity)
			}
		}

		detailedObj := root.Name("BufferAllocations").Object()
		var total memutils.DetailedStatistics
		total.Clear()
		for category := PoolCategory(0); category < poolCategoryCount; category++ {
			total.AddDetailedStatistics(&categoryStats[category])
			printDetailedStatistics(detailedObj.Name(category.String()).Object(), &categoryStats[category])
		}
		printDetailedStatistics(detailedObj.Name("Total").Object(), &total)
		detailedObj.End()

		buffersArr := root.Name("Buffers").Array()
		for buffer := range m.buffers {
			o := buffersArr.Object()
			buffer.printParameters(&o)
			o.End()
		}
		buffersArr.End()

		m.buffersMutex.RUnlock()
	}

	root.End()
	return string(writer.Bytes())
}
