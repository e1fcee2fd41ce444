package ebuf

import (
	"io"
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// mockResource backs a resource with host memory so tests can observe the
// exact bytes the device would see.
type mockResource struct {
	id       int
	size     int
	category PoolCategory

	data     []byte
	mapped   bool
	released bool
	// shared simulates a reference held by in-flight device work
	shared bool

	flushRanges []Range
}

func (r *mockResource) Size() int { return r.size }

type mockDevice struct {
	nextID    int
	resources []*mockResource

	createErr error
	mapErr    error

	unmapCalls int
}

func (d *mockDevice) CreateResource(category PoolCategory, size int) (Resource, error) {
	if d.createErr != nil {
		return nil, d.createErr
	}

	d.nextID++
	r := &mockResource{
		id:       d.nextID,
		size:     size,
		category: category,
		data:     make([]byte, size),
	}
	d.resources = append(d.resources, r)
	return r, nil
}

func (d *mockDevice) Map(resource Resource, readRange Range) (unsafe.Pointer, error) {
	if d.mapErr != nil {
		return nil, d.mapErr
	}

	r := resource.(*mockResource)
	if r.mapped {
		return nil, errors.New("mock: resource is already mapped")
	}
	if readRange.Offset+readRange.Size > r.size {
		return nil, errors.Errorf("mock: range [%d, %d) exceeds the resource's %d bytes", readRange.Offset, readRange.Offset+readRange.Size, r.size)
	}

	r.mapped = true
	return unsafe.Pointer(&r.data[readRange.Offset]), nil
}

func (d *mockDevice) Unmap(resource Resource, flushRange Range) {
	r := resource.(*mockResource)
	r.mapped = false
	r.flushRanges = append(r.flushRanges, flushRange)
	d.unmapCalls++
}

func (d *mockDevice) IsExclusivelyReferenced(resource Resource) bool {
	return !resource.(*mockResource).shared
}

func (d *mockDevice) ReleaseResource(resource Resource) {
	resource.(*mockResource).released = true
}

type recordedTransition struct {
	resource Resource
	oldState ResourceState
	newState ResourceState
}

type recordedCopy struct {
	src       Resource
	srcOffset int
	dst       Resource
	dstOffset int
	size      int
}

type mockRecorder struct {
	transitions []recordedTransition
	copies      []recordedCopy
}

func (r *mockRecorder) RecordTransition(resource Resource, oldState, newState ResourceState) {
	r.transitions = append(r.transitions, recordedTransition{resource, oldState, newState})
}

func (r *mockRecorder) RecordCopy(src Resource, srcOffset int, dst Resource, dstOffset int, size int) {
	r.copies = append(r.copies, recordedCopy{src, srcOffset, dst, dstOffset, size})
}

type mockCache struct {
	registered []*Buffer
	forgotten  []*Buffer
}

func (c *mockCache) RegisterBuffer(buffer *Buffer) {
	c.registered = append(c.registered, buffer)
}

func (c *mockCache) ForgetBuffer(buffer *Buffer) {
	c.forgotten = append(c.forgotten, buffer)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestManager(t *testing.T, options CreateOptions) (*mockDevice, *mockRecorder, *mockCache, *Manager) {
	device := &mockDevice{}
	recorder := &mockRecorder{}
	cache := &mockCache{}

	manager, err := New(testLogger(), device, recorder, cache, options)
	require.NoError(t, err)

	return device, recorder, cache, manager
}
