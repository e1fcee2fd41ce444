package ebuf

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/easel/memutils"
)

// PlatformProperties collects the host-platform quirks that affect the write
// path. It is selected once when the Manager is created rather than checked
// throughout the code.
type PlatformProperties struct {
	// FlushAlignment is the granularity flush-range ends must be rounded up
	// to before an unmap is issued. Must be a power of two of at least 1.
	FlushAlignment uint
	// ReadbackRequiresEmptyFlushRange indicates the platform distinguishes
	// "nothing new to flush" from "flush these bytes" and requires the former
	// when unmapping a host-readback resource.
	ReadbackRequiresEmptyFlushRange bool
}

// DefaultPlatformProperties returns the properties for platforms with no
// special flush behavior.
func DefaultPlatformProperties() PlatformProperties {
	return PlatformProperties{
		FlushAlignment:                  1,
		ReadbackRequiresEmptyFlushRange: true,
	}
}

// ApplePlatformProperties returns the properties for Apple hosts, where
// flush ranges must end on a 4-byte boundary.
func ApplePlatformProperties() PlatformProperties {
	return PlatformProperties{
		FlushAlignment:                  4,
		ReadbackRequiresEmptyFlushRange: true,
	}
}

func (p PlatformProperties) Validate() error {
	if p.FlushAlignment < 1 {
		return errors.Wrapf(memutils.ErrInvalidArgument, "FlushAlignment is %d, but must be at least 1", p.FlushAlignment)
	}

	return memutils.CheckPow2(p.FlushAlignment, "FlushAlignment")
}
