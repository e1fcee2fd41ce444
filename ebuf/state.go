package ebuf

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// ResourceState is the device-pipeline visibility state a backing allocation
// must hold before a given operation may touch it. States are bit flags so
// that the composite read states can be tested for subsumption.
type ResourceState uint32

var resourceStateMapping = common.NewFlagStringMapping[ResourceState]()

func (s ResourceState) Register(str string) {
	resourceStateMapping.Register(s, str)
}
func (s ResourceState) String() string {
	return resourceStateMapping.FlagsToString(s)
}

const (
	// StateVertexAndConstantBuffer permits vertex fetch and constant reads
	StateVertexAndConstantBuffer ResourceState = 1 << iota
	// StateIndexBuffer permits index fetch
	StateIndexBuffer
	// StateUnorderedAccess permits unordered device reads and writes
	StateUnorderedAccess
	// StateNonPixelShaderResource permits reads from non-pixel shader stages
	StateNonPixelShaderResource
	// StatePixelShaderResource permits reads from the pixel shader stage
	StatePixelShaderResource
	// StateIndirectArgument permits indirect-draw argument fetch
	StateIndirectArgument
	// StateCopyDest permits the resource to be the destination of a copy
	StateCopyDest
	// StateCopySource permits the resource to be the source of a copy
	StateCopySource

	// StateGenericRead is the composite covering every read-only state a
	// host-upload resource can serve without a barrier.
	StateGenericRead = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateNonPixelShaderResource | StatePixelShaderResource |
		StateIndirectArgument | StateCopySource
)

func init() {
	StateVertexAndConstantBuffer.Register("StateVertexAndConstantBuffer")
	StateIndexBuffer.Register("StateIndexBuffer")
	StateUnorderedAccess.Register("StateUnorderedAccess")
	StateNonPixelShaderResource.Register("StateNonPixelShaderResource")
	StatePixelShaderResource.Register("StatePixelShaderResource")
	StateIndirectArgument.Register("StateIndirectArgument")
	StateCopyDest.Register("StateCopyDest")
	StateCopySource.Register("StateCopySource")
}

// Transition ensures device work recorded after this call observes the
// buffer's backing allocation in the target state. Consumers call this
// before recording a vertex, index or indirect-argument fetch or a copy
// against the buffer; for host-upload buffers the fixed generic-read state
// already covers those reads and no barrier is recorded. Released or
// abandoned buffers are ignored, so device-loss recovery does not need to
// special-case it.
func (m *Manager) Transition(buffer *Buffer, target ResourceState) {
	m.logger.Debug("Manager::Transition")

	if buffer.backing == nil {
		return
	}

	m.tracker.Transition(buffer.backing, target)
}

// StateTracker holds no state of its own: it reads and advances the
// visibility state stored on each BackingAllocation, recording the minimal
// transition into the shared command recorder when one is required.
type StateTracker struct {
	logger   *slog.Logger
	recorder CommandRecorder
}

// Transition ensures work recorded after this call sees the allocation in
// the target state. It records at most one barrier and never fails.
func (t *StateTracker) Transition(alloc *BackingAllocation, target ResourceState) {
	t.logger.Debug("StateTracker::Transition")

	current := alloc.state
	if current == target {
		return
	}
	// GenericRead subsumes the narrower read-only states, so a request for
	// any subset of it needs no barrier. This is the common case for
	// host-upload buffers consumed as vertex/index/indirect data.
	if current == StateGenericRead && target != 0 && target&^StateGenericRead == 0 {
		return
	}

	if alloc.category.stateIsFixed() {
		panic(fmt.Sprintf("attempted to transition a %s allocation from %s to %s, but its category's state is fixed at creation",
			alloc.category, current, target))
	}

	t.recorder.RecordTransition(alloc.resource, current, target)
	alloc.state = target
}
