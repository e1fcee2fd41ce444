package ebuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionNoOpWhenStatesMatch(t *testing.T) {
	_, recorder, _, manager := createTestManager(t, CreateOptions{})

	alloc, err := manager.Allocator().Allocate(128, BufferTypeVertex, AccessPatternStatic)
	require.NoError(t, err)
	require.Equal(t, StateCopyDest, alloc.State())

	manager.tracker.Transition(alloc, StateCopyDest)
	require.Empty(t, recorder.transitions)
}

func TestTransitionRecordsBarrier(t *testing.T) {
	_, recorder, _, manager := createTestManager(t, CreateOptions{})

	alloc, err := manager.Allocator().Allocate(128, BufferTypeVertex, AccessPatternStatic)
	require.NoError(t, err)

	manager.tracker.Transition(alloc, StateVertexAndConstantBuffer)

	require.Len(t, recorder.transitions, 1)
	require.Equal(t, alloc.Resource(), recorder.transitions[0].resource)
	require.Equal(t, StateCopyDest, recorder.transitions[0].oldState)
	require.Equal(t, StateVertexAndConstantBuffer, recorder.transitions[0].newState)
	require.Equal(t, StateVertexAndConstantBuffer, alloc.State())
}

func TestTransitionGenericReadSubsumesReadStates(t *testing.T) {
	_, recorder, _, manager := createTestManager(t, CreateOptions{})

	alloc, err := manager.Allocator().Allocate(128, BufferTypeVertex, AccessPatternStatic)
	require.NoError(t, err)

	manager.tracker.Transition(alloc, StateGenericRead)
	require.Len(t, recorder.transitions, 1)

	// Narrower read-only states are already covered; no barrier.
	for _, target := range []ResourceState{
		StateVertexAndConstantBuffer,
		StateIndexBuffer,
		StateIndirectArgument,
		StateCopySource,
		StateIndexBuffer | StateCopySource,
	} {
		manager.tracker.Transition(alloc, target)
		require.Len(t, recorder.transitions, 1)
		require.Equal(t, StateGenericRead, alloc.State())
	}

	// A write state is not subsumed.
	manager.tracker.Transition(alloc, StateCopyDest)
	require.Len(t, recorder.transitions, 2)
	require.Equal(t, StateCopyDest, alloc.State())
}

func TestTransitionFixedCategoryPanics(t *testing.T) {
	_, recorder, _, manager := createTestManager(t, CreateOptions{})

	upload, err := manager.Allocator().Allocate(128, BufferTypeVertex, AccessPatternDynamic)
	require.NoError(t, err)
	readback, err := manager.Allocator().Allocate(128, BufferTypeXferGPUToCPU, AccessPatternDynamic)
	require.NoError(t, err)

	// Requests subsumed by the fixed state are fine.
	manager.tracker.Transition(upload, StateIndexBuffer)
	manager.tracker.Transition(readback, StateCopyDest)
	require.Empty(t, recorder.transitions)

	require.Panics(t, func() {
		manager.tracker.Transition(upload, StateUnorderedAccess)
	})
	require.Panics(t, func() {
		manager.tracker.Transition(readback, StateCopySource)
	})
}
