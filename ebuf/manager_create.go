package ebuf

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/easel/ebuf/internal/utils"
	"github.com/vkngwrapper/easel/memutils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var managerCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	managerCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return managerCreateFlagsMapping.FlagsToString(f)
}

const (
	// ManagerCreateExternallySynchronized ensures that this manager and the buffers created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// thread at a time or are synchronized by some other mechanism, but performance may improve
	// because internal mutexes are not used. Writes to a single buffer are never internally
	// synchronized against one another regardless of this flag; callers must serialize writers
	// per buffer.
	ManagerCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	ManagerCreateExternallySynchronized.Register("ManagerCreateExternallySynchronized")
}

// CreateOptions contains optional settings when creating a Manager
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags

	// Platform describes the host platform's flush-range behavior. The zero
	// value is replaced with DefaultPlatformProperties.
	Platform PlatformProperties
}

// New creates a Manager that places buffers with the provided Device, orders
// transitions and staged copies with the provided CommandRecorder, and
// reports buffer creation to the provided ResourceCache. cache may be nil
// when no budgeting collaborator is present.
func New(logger *slog.Logger, device Device, recorder CommandRecorder, cache ResourceCache, options CreateOptions) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if device == nil {
		return nil, errors.Wrap(memutils.ErrInvalidArgument, "attempted to create a Manager with a nil Device")
	}
	if recorder == nil {
		return nil, errors.Wrap(memutils.ErrInvalidArgument, "attempted to create a Manager with a nil CommandRecorder")
	}

	platform := options.Platform
	if platform == (PlatformProperties{}) {
		platform = DefaultPlatformProperties()
	}
	err := platform.Validate()
	if err != nil {
		return nil, err
	}

	useMutex := options.Flags&ManagerCreateExternallySynchronized == 0

	m := &Manager{
		logger:   logger,
		device:   device,
		recorder: recorder,
		cache:    cache,
		allocator: &BackingAllocator{
			logger:   logger,
			device:   device,
			platform: platform,
			useMutex: useMutex,
			budgetMutex: utils.OptionalRWMutex{
				UseMutex: useMutex,
			},
		},
		tracker: &StateTracker{
			logger:   logger,
			recorder: recorder,
		},
		buffers: make(map[*Buffer]struct{}),
		buffersMutex: utils.OptionalRWMutex{
			UseMutex: useMutex,
		},
	}

	return m, nil
}
