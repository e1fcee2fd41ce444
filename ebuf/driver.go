package ebuf

import (
	"unsafe"
)

// Range is a byte window over a device resource. The zero value is the empty
// range, which tells Unmap that no bytes need to be flushed to the device.
type Range struct {
	Offset int
	Size   int
}

// Resource is the device's opaque handle for a single physical buffer
// resource. Concrete types belong to the Device implementation; this package
// only passes handles back into the Device and CommandRecorder that minted
// them.
type Resource interface {
	// Size is the resource's capacity in bytes. It may exceed the size that
	// was requested when the resource was created.
	Size() int
}

// Device is the resource-creation and host-mapping surface of the rendering
// backend. All methods execute synchronously on the calling thread; Map may
// block inside the driver, but never on GPU completion.
type Device interface {
	// CreateResource creates one physical resource of at least size bytes in
	// the requested memory pool category. Contents are undefined.
	CreateResource(category PoolCategory, size int) (Resource, error)
	// Map opens a host-visible window over readRange. The device permits at
	// most one open mapping per resource.
	Map(resource Resource, readRange Range) (unsafe.Pointer, error)
	// Unmap closes the mapping, flushing flushRange to the device. An empty
	// flushRange means no new bytes need to reach the device.
	Unmap(resource Resource, flushRange Range)
	// IsExclusivelyReferenced reports whether anything besides the caller
	// currently holds the resource. In-flight command lists that read the
	// resource keep a reference until they retire.
	IsExclusivelyReferenced(resource Resource) bool
	// ReleaseResource drops the caller's reference. The device destroys the
	// resource once in-flight work has retired its own references.
	ReleaseResource(resource Resource)
}

// CommandRecorder is the shared command stream that orders this package's
// barriers and copies against the rest of the frame's device work.
type CommandRecorder interface {
	// RecordTransition records a visibility-state barrier. It affects all
	// work recorded after this call and none recorded before it.
	RecordTransition(resource Resource, oldState, newState ResourceState)
	// RecordCopy records a buffer-to-buffer copy of size bytes.
	RecordCopy(src Resource, srcOffset int, dst Resource, dstOffset int, size int)
}

// ResourceCache is the engine's budgeting collaborator. Buffers register at
// creation so the cache can account for them and query their identity when
// choosing eviction candidates. The cache never evicts through this package.
type ResourceCache interface {
	RegisterBuffer(buffer *Buffer)
	ForgetBuffer(buffer *Buffer)
}
