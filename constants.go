package deployr

import "github.com/Algebraic-Programming/DeployR/internal/constants"

// Re-export constants for the public API.
const (
	GetTopologyTarget = constants.GetTopologyTarget
	ReleaseTarget     = constants.ReleaseTarget

	DefaultBufferCapacity = constants.DefaultBufferCapacity
	DefaultBufferSize     = constants.DefaultBufferSize
)
