package engine

import "errors"

var (
	// ErrMemoryLimit is returned when an instance's initial memory exceeds
	// its ceiling.
	ErrMemoryLimit = errors.New("instance memory limit exceeded")
	// ErrNoCapability is raised by host functions called from a store that
	// was built without the capability they need.
	ErrNoCapability = errors.New("store lacks the capability")
)
