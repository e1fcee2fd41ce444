package ebuf

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/easel/ebuf/internal/utils"
	"github.com/vkngwrapper/easel/memutils"
	"golang.org/x/exp/slog"
)

// Manager owns the backing-memory lifecycle of the buffers created from it:
// placement, host writes with hazard avoidance, staged uploads into
// device-local memory, and teardown.
type Manager struct {
	logger   *slog.Logger
	device   Device
	recorder CommandRecorder
	cache    ResourceCache

	allocator *BackingAllocator
	tracker   *StateTracker

	buffersMutex utils.OptionalRWMutex
	buffers      map[*Buffer]struct{}
}

// Allocator exposes the manager's backing allocator, primarily for budget
// queries.
func (m *Manager) Allocator() *BackingAllocator {
	return m.allocator
}

// Destroy verifies that every buffer created from this manager has been
// released or abandoned. The Device and CommandRecorder belong to the caller
// and are not touched.
func (m *Manager) Destroy() error {
	m.logger.Debug("Manager::Destroy")

	m.buffersMutex.RLock()
	defer m.buffersMutex.RUnlock()

	if len(m.buffers) != 0 {
		return errors.Newf("attempted to destroy a Manager with %d live buffers", len(m.buffers))
	}
	return nil
}

// CreateBuffer creates a logical buffer of exactly size bytes and acquires
// its first backing allocation. The type and access pattern are fixed for
// the buffer's lifetime and together determine its placement.
func (m *Manager) CreateBuffer(size int, bufferType BufferType, accessPattern AccessPattern) (*Buffer, error) {
	m.logger.Debug("Manager::CreateBuffer")

	alloc, err := m.allocator.Allocate(size, bufferType, accessPattern)
	if err != nil {
		return nil, err
	}

	b := &Buffer{
		size:          size,
		bufferType:    bufferType,
		accessPattern: accessPattern,
		backing:       alloc,
		manager:       m,
	}

	m.allocator.noteBufferCreated(alloc.category)

	m.buffersMutex.Lock()
	m.buffers[b] = struct{}{}
	m.buffersMutex.Unlock()

	if m.cache != nil {
		m.cache.RegisterBuffer(b)
	}

	memutils.DebugValidate(b)
	return b, nil
}

// Buffer is a logical GPU buffer: an immutable identity (size, type, access
// pattern) over a replaceable backing allocation. Writes to a single Buffer
// must be serialized by the caller; the hazard-avoidance substitution is not
// reentrant across threads.
type Buffer struct {
	size          int
	bufferType    BufferType
	accessPattern AccessPattern
	name          string

	backing *BackingAllocation
	// mapped is the allocation the open host view points into: the backing
	// allocation for dynamic buffers, a transient staging allocation for
	// static ones. Nil outside a write.
	mapped *BackingAllocation
	mapPtr unsafe.Pointer

	manager *Manager
}

// The read-only query surface used by the resource cache to judge eviction
// candidacy.

func (b *Buffer) Size() int                    { return b.size }
func (b *Buffer) Type() BufferType             { return b.bufferType }
func (b *Buffer) AccessPattern() AccessPattern { return b.accessPattern }

// PoolCategory returns the pool the current backing allocation lives in, or
// false if the buffer has been released or abandoned.
func (b *Buffer) PoolCategory() (PoolCategory, bool) {
	if b.backing == nil {
		return 0, false
	}
	return b.backing.category, true
}

func (b *Buffer) SetName(name string) {
	b.name = name
}

func (b *Buffer) Name() string {
	return b.name
}

// Write replaces the first len(data) bytes of the buffer's contents, as
// observed by any device work recorded after this call. The host never
// mutates memory that previously recorded device work may still be reading:
// a shared dynamic allocation is substituted with a fresh one, and static
// buffers are populated through a staged copy ordered by the recorder.
//
// On failure the buffer is left on its previous, still-valid allocation with
// nothing written.
func (b *Buffer) Write(data []byte) error {
	b.manager.logger.Debug("Buffer::Write")

	if len(data) == 0 {
		return errors.Wrap(memutils.ErrInvalidArgument, "attempted to write an empty payload")
	}
	if len(data) > b.size {
		return errors.Wrapf(memutils.ErrInvalidArgument, "attempted to write %d bytes to a %d-byte buffer", len(data), b.size)
	}
	if b.backing == nil {
		return errors.Wrap(memutils.ErrInvalidated, "attempted to write to a buffer that was released or abandoned")
	}

	err := b.internalMap(len(data))
	if err != nil {
		return err
	}

	dst := unsafe.Slice((*byte)(b.mapPtr), len(data))
	copy(dst, data)

	b.internalUnmap(len(data))

	memutils.DebugValidate(b)
	return nil
}

// internalMap opens the host view a write lands in, substituting or staging
// first as the hazard rules require. On error nothing is mapped and the
// buffer is unchanged.
func (b *Buffer) internalMap(size int) error {
	if b.mapped != nil {
		panic("attempted to map a buffer that already has an open mapped view")
	}

	if b.accessPattern == AccessPatternStatic {
		// Device-local memory is not host-writable; write into a transient
		// staging allocation and copy on unmap.
		staging, err := b.manager.allocator.Allocate(size, BufferTypeXferCPUToGPU, AccessPatternDynamic)
		if err != nil {
			return err
		}

		ptr, err := staging.Map(size)
		if err != nil {
			staging.release()
			return err
		}

		b.mapped = staging
		b.mapPtr = ptr
		return nil
	}

	if !b.manager.device.IsExclusivelyReferenced(b.backing.resource) {
		// In use by a previously submitted command list: mutating it would
		// corrupt in-flight reads, so write into a new allocation instead.
		replacement, err := b.manager.allocator.Allocate(b.size, b.bufferType, b.accessPattern)
		if err != nil {
			return err
		}

		b.backing.release()
		// A fresh resource arrives in the correct fixed state; no transition
		// is needed.
		b.backing = replacement
	}

	ptr, err := b.backing.Map(size)
	if err != nil {
		return err
	}

	b.mapped = b.backing
	b.mapPtr = ptr
	return nil
}

// internalUnmap closes the view opened by internalMap and, for static
// buffers, records the transition and copy that carry the staged bytes into
// the device-local allocation.
func (b *Buffer) internalUnmap(size int) {
	if b.mapped == nil {
		panic("attempted to unmap a buffer with no open mapped view")
	}

	if b.accessPattern == AccessPatternStatic {
		staging := b.mapped
		staging.Unmap(size)

		b.manager.tracker.Transition(b.backing, StateCopyDest)
		b.manager.recorder.RecordCopy(staging.resource, 0, b.backing.resource, 0, size)

		// The recorder orders the copy's consumption of the staging bytes, so
		// the buffer's reference can drop as soon as the command is recorded.
		staging.release()
	} else {
		b.mapped.Unmap(size)
	}

	b.mapped = nil
	b.mapPtr = nil
}

// Release drops the buffer's backing allocation through the device's
// ordinary reference counting and deregisters it from the resource cache.
// Calling Release on an already released or abandoned buffer is a no-op.
func (b *Buffer) Release() {
	b.manager.logger.Debug("Buffer::Release")

	if b.backing == nil {
		return
	}

	if b.mapped != nil {
		// The view's content is discarded with it; nothing needs to flush.
		staging := b.mapped
		staging.Unmap(0)
		if staging != b.backing {
			staging.release()
		}
		b.mapped = nil
		b.mapPtr = nil
	}

	b.backing.release()
	b.teardown()
}

// Abandon clears the buffer after device loss. No device call of any kind is
// issued; the device, and every resource on it, is assumed gone. Calling
// Abandon on an already released or abandoned buffer is a no-op.
func (b *Buffer) Abandon() {
	b.manager.logger.Debug("Buffer::Abandon")

	if b.backing == nil {
		return
	}

	if b.mapped != nil {
		staging := b.mapped
		staging.mapReferences = 0
		staging.mapData = nil
		if staging != b.backing {
			staging.abandonAllocation()
		}
		b.mapped = nil
		b.mapPtr = nil
	}

	b.backing.abandonAllocation()
	b.teardown()
}

func (b *Buffer) teardown() {
	b.backing = nil

	m := b.manager
	m.allocator.noteBufferReleased(poolCategoryFor(b.bufferType, b.accessPattern))

	m.buffersMutex.Lock()
	delete(m.buffers, b)
	m.buffersMutex.Unlock()

	if m.cache != nil {
		m.cache.ForgetBuffer(b)
	}
}

func (b *Buffer) Validate() error {
	if b.size < 1 {
		return errors.Newf("buffer has an invalid size of %d bytes", b.size)
	}
	if b.bufferType.String() == "" {
		return errors.Newf("buffer has an unknown type %d", int(b.bufferType))
	}
	if b.mapped != nil && b.backing == nil {
		return errors.New("buffer has an open mapped view but no backing allocation")
	}
	if b.backing != nil && b.backing.capacity < b.size {
		return errors.Newf("buffer is %d bytes but its backing allocation only has a capacity of %d", b.size, b.backing.capacity)
	}
	if b.mapped != nil && b.mapped != b.backing && b.accessPattern != AccessPatternStatic {
		return errors.New("buffer has a staging view open, but is not static")
	}
	return nil
}

// poolCategoryFor mirrors the placement policy for identities that are known
// to be valid, for bookkeeping that outlives the backing allocation.
func poolCategoryFor(bufferType BufferType, accessPattern AccessPattern) PoolCategory {
	category, _, err := placementFor(bufferType, accessPattern)
	if err != nil {
		panic(fmt.Sprintf("a live buffer carries an invalid identity: %+v", err))
	}
	return category
}
