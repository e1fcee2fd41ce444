package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// The buffer lifecycle error taxonomy. Failures are wrapped with context at
// the site that produces them; callers classify with errors.Is.
var (
	// ErrInvalidArgument indicates a violated calling contract: a bad size, an
	// impossible buffer type/access pattern combination, and the like. Callers
	// may reasonably treat it as fatal.
	ErrInvalidArgument error = errors.New("invalid argument")
	// ErrInvalidated indicates an operation on a buffer that has already been
	// released or abandoned. Expected during device-loss recovery.
	ErrInvalidated error = errors.New("buffer has been released or abandoned")
	// ErrOutOfMemory indicates the device refused a resource creation request.
	// Recoverable: the caller may free budget and retry.
	ErrOutOfMemory error = errors.New("device out of memory")
	// ErrMapFailed indicates the platform denied a host map, or a second view
	// was requested over an already-mapped allocation.
	ErrMapFailed error = errors.New("host map failed")
)
