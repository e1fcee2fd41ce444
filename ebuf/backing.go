package ebuf

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/easel/ebuf/internal/utils"
	"github.com/vkngwrapper/easel/memutils"
	"golang.org/x/exp/slog"
)

// BufferType describes how a logical buffer's contents are consumed by the
// device.
type BufferType byte

const (
	BufferTypeVertex BufferType = iota
	BufferTypeIndex
	BufferTypeDrawIndirect
	// BufferTypeXferCPUToGPU is a host-to-device transfer buffer, including
	// the transient staging buffers used to populate device-local memory
	BufferTypeXferCPUToGPU
	// BufferTypeXferGPUToCPU is a device-to-host readback buffer
	BufferTypeXferGPUToCPU
)

var bufferTypeMapping = make(map[BufferType]string)

func (t BufferType) String() string {
	return bufferTypeMapping[t]
}

func init() {
	bufferTypeMapping[BufferTypeVertex] = "BufferTypeVertex"
	bufferTypeMapping[BufferTypeIndex] = "BufferTypeIndex"
	bufferTypeMapping[BufferTypeDrawIndirect] = "BufferTypeDrawIndirect"
	bufferTypeMapping[BufferTypeXferCPUToGPU] = "BufferTypeXferCPUToGPU"
	bufferTypeMapping[BufferTypeXferGPUToCPU] = "BufferTypeXferGPUToCPU"
}

func (t BufferType) isTransfer() bool {
	return t == BufferTypeXferCPUToGPU || t == BufferTypeXferGPUToCPU
}

// AccessPattern describes how often the host rewrites a buffer: static
// buffers are written once and read many times by the device, dynamic
// buffers are written and read repeatedly. Transfer buffers are dynamic.
type AccessPattern byte

const (
	AccessPatternDynamic AccessPattern = iota
	AccessPatternStatic
)

var accessPatternMapping = make(map[AccessPattern]string)

func (p AccessPattern) String() string {
	return accessPatternMapping[p]
}

func init() {
	accessPatternMapping[AccessPatternDynamic] = "AccessPatternDynamic"
	accessPatternMapping[AccessPatternStatic] = "AccessPatternStatic"
}

// PoolCategory is the memory pool a backing allocation lives in, which
// determines whether the host can map it and whether its visibility state
// can ever change.
type PoolCategory byte

const (
	// PoolDeviceLocal is device-only memory, populated via staged copies
	PoolDeviceLocal PoolCategory = iota
	// PoolHostUpload is host-writable, device-readable memory
	PoolHostUpload
	// PoolHostReadback is host-readable memory the device copies into
	PoolHostReadback

	poolCategoryCount = 3
)

var poolCategoryMapping = make(map[PoolCategory]string)

func (c PoolCategory) String() string {
	return poolCategoryMapping[c]
}

func init() {
	poolCategoryMapping[PoolDeviceLocal] = "PoolDeviceLocal"
	poolCategoryMapping[PoolHostUpload] = "PoolHostUpload"
	poolCategoryMapping[PoolHostReadback] = "PoolHostReadback"
}

// stateIsFixed reports whether allocations in this category keep their
// creation state for their whole life. Only device-local resources
// transition.
func (c PoolCategory) stateIsFixed() bool {
	return c != PoolDeviceLocal
}

func (c PoolCategory) hostVisible() bool {
	return c != PoolDeviceLocal
}

// BackingAllocation is one physical device resource together with its
// current visibility state and host-mapping bookkeeping. A logical buffer
// holds at most one backing allocation at a time, but an allocation that was
// substituted out may live on inside the device's in-flight work.
type BackingAllocation struct {
	resource Resource
	capacity int
	category PoolCategory
	state    ResourceState

	// Mapping data- the single host view permitted over this allocation
	mapReferences int
	mapData       unsafe.Pointer
	mapMutex      utils.OptionalMutex

	parentAllocator *BackingAllocator
}

func (a *BackingAllocation) Capacity() int          { return a.capacity }
func (a *BackingAllocation) Category() PoolCategory { return a.category }
func (a *BackingAllocation) State() ResourceState   { return a.state }
func (a *BackingAllocation) Resource() Resource     { return a.resource }

// Map opens the allocation's single host view, covering [0, size). A second
// Map before the matching Unmap fails with ErrMapFailed.
func (a *BackingAllocation) Map(size int) (unsafe.Pointer, error) {
	if size < 1 || size > a.capacity {
		panic(fmt.Sprintf("attempted to map %d bytes of an allocation with a capacity of %d bytes", size, a.capacity))
	}
	if !a.category.hostVisible() {
		panic(fmt.Sprintf("attempted to map a %s allocation, which the host cannot address", a.category))
	}

	a.mapMutex.Lock()
	defer a.mapMutex.Unlock()

	if a.mapReferences > 0 {
		return nil, errors.Wrap(memutils.ErrMapFailed, "the allocation already has an open mapped view")
	}

	ptr, err := a.parentAllocator.device.Map(a.resource, Range{Offset: 0, Size: size})
	if err != nil {
		return nil, errors.Wrapf(memutils.ErrMapFailed, "the device refused a %d-byte map: %v", size, err)
	}

	a.mapReferences = 1
	a.mapData = ptr
	return ptr, nil
}

// Unmap closes the open host view. flushSize is the number of bytes the
// device needs to observe, before platform alignment rounding; host-readback
// allocations always flush the empty range, since an unmap there never
// carries new bytes to the device.
func (a *BackingAllocation) Unmap(flushSize int) {
	a.mapMutex.Lock()
	defer a.mapMutex.Unlock()

	if a.mapReferences == 0 {
		panic("attempted to unmap an allocation with no open mapped view")
	}

	platform := a.parentAllocator.platform

	var flushRange Range
	if a.category != PoolHostReadback || !platform.ReadbackRequiresEmptyFlushRange {
		// Callers are not required to pre-align flushSize.
		flushRange = Range{Offset: 0, Size: memutils.AlignUp(flushSize, platform.FlushAlignment)}
	}

	a.parentAllocator.device.Unmap(a.resource, flushRange)
	a.mapReferences = 0
	a.mapData = nil
}

func (a *BackingAllocation) isMapped() bool {
	a.mapMutex.Lock()
	defer a.mapMutex.Unlock()

	return a.mapReferences > 0
}

// release drops the holder's reference and returns the resource to the
// device. In-flight device work may still hold the resource; the device's
// own reference counting keeps it alive until that work retires.
func (a *BackingAllocation) release() {
	a.parentAllocator.freeAllocation(a, true)
}

// abandonAllocation clears budget accounting without any device interaction,
// for the lost-device path.
func (a *BackingAllocation) abandonAllocation() {
	a.parentAllocator.freeAllocation(a, false)
}

func (a *BackingAllocation) Validate() error {
	if a.resource == nil {
		return errors.New("backing allocation has no device resource")
	}
	if a.resource.Size() < a.capacity {
		return errors.Newf("backing allocation claims a capacity of %d bytes, but its resource only has %d", a.capacity, a.resource.Size())
	}
	if a.category.stateIsFixed() {
		expected := StateGenericRead
		if a.category == PoolHostReadback {
			expected = StateCopyDest
		}
		if a.state != expected {
			return errors.Newf("%s allocation has state %s, but its category fixes the state at %s", a.category, a.state, expected)
		}
	}
	return nil
}

// BackingAllocator selects a memory pool category for each new backing
// allocation from the buffer's type and access pattern, and creates the
// physical resource behind it.
type BackingAllocator struct {
	logger   *slog.Logger
	device   Device
	platform PlatformProperties
	useMutex bool

	budgetMutex utils.OptionalRWMutex
	budget      [poolCategoryCount]memutils.Statistics
}

// Allocate creates exactly one new physical resource of at least size bytes.
// It never touches existing allocations and never retries: a device refusal
// surfaces as ErrOutOfMemory and retry or fallback is the caller's decision.
func (a *BackingAllocator) Allocate(size int, bufferType BufferType, accessPattern AccessPattern) (*BackingAllocation, error) {
	a.logger.Debug("BackingAllocator::Allocate")

	if size < 1 {
		return nil, errors.Wrapf(memutils.ErrInvalidArgument, "requested an allocation of %d bytes, but allocations must have a positive size", size)
	}

	category, initialState, err := placementFor(bufferType, accessPattern)
	if err != nil {
		return nil, err
	}

	resource, err := a.device.CreateResource(category, size)
	if err != nil {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "the device rejected a %d-byte %s resource: %v", size, category, err)
	}

	alloc := &BackingAllocation{
		resource: resource,
		capacity: resource.Size(),
		category: category,
		state:    initialState,
		mapMutex: utils.OptionalMutex{
			UseMutex: a.useMutex,
		},
		parentAllocator: a,
	}

	a.budgetMutex.Lock()
	a.budget[category].AddAllocation(alloc.capacity)
	a.budgetMutex.Unlock()

	a.fillAllocation(alloc, debugAllocFillPattern)
	memutils.DebugValidate(alloc)

	return alloc, nil
}

// placementFor is the placement policy table: access pattern and buffer type
// together fix the pool category and the initial visibility state.
func placementFor(bufferType BufferType, accessPattern AccessPattern) (PoolCategory, ResourceState, error) {
	if accessPattern == AccessPatternStatic {
		if bufferType.isTransfer() {
			return 0, 0, errors.Wrapf(memutils.ErrInvalidArgument,
				"a static buffer cannot have the transfer type %s, which is reserved for transient staging", bufferType)
		}
		// Starts unreadable by the draw stages and must be populated with a
		// staged copy before use.
		return PoolDeviceLocal, StateCopyDest, nil
	}

	if bufferType == BufferTypeXferGPUToCPU {
		// Fixed for the life of the allocation.
		return PoolHostReadback, StateCopyDest, nil
	}

	// Fixed for the life of the allocation. GenericRead covers vertex, index
	// and indirect-argument fetch as well as copy-source reads, so device
	// consumers need no further transition.
	return PoolHostUpload, StateGenericRead, nil
}

// freeAllocation retires an allocation from budget accounting and, unless
// the device has been lost, releases its resource.
func (a *BackingAllocator) freeAllocation(alloc *BackingAllocation, releaseResource bool) {
	if alloc.isMapped() {
		panic("attempted to free a backing allocation with an open mapped view")
	}

	a.budgetMutex.Lock()
	a.budget[alloc.category].RemoveAllocation(alloc.capacity)
	a.budgetMutex.Unlock()

	if releaseResource {
		a.device.ReleaseResource(alloc.resource)
	}
	alloc.resource = nil
}

func (a *BackingAllocator) noteBufferCreated(category PoolCategory) {
	a.budgetMutex.Lock()
	defer a.budgetMutex.Unlock()

	a.budget[category].BufferCount++
}

func (a *BackingAllocator) noteBufferReleased(category PoolCategory) {
	a.budgetMutex.Lock()
	defer a.budgetMutex.Unlock()

	a.budget[category].BufferCount--
}

// Budget returns a snapshot of the live-allocation statistics for one pool
// category.
func (a *BackingAllocator) Budget(category PoolCategory) memutils.Statistics {
	a.budgetMutex.RLock()
	defer a.budgetMutex.RUnlock()

	return a.budget[category]
}
