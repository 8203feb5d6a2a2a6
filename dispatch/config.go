package dispatch

import "time"

// Config holds configuration for the chunk dispatch executor.
type Config struct {
	// HungThreshold is the duration by which an in-flight attempt may
	// exceed the running average before it's considered hung and
	// restarted (at most MaxHungRestarts times). Zero disables hung
	// detection.
	HungThreshold time.Duration

	// MaxHungRestarts bounds how many times a single chunk attempt may
	// be restarted after being judged hung, before the attempt is
	// simply let through to run to completion or fail naturally. This
	// is distinct from retrying a failed HTTP response: each chunk POST
	// counts exactly once toward the error threshold; a hung-restart
	// replaces an attempt that never got a response at all, so it
	// isn't "a chunk upload error" yet.
	MaxHungRestarts int
}

// DefaultConfig returns the default configuration: hung detection
// disabled, and at most one hung-restart per attempt if a caller
// enables it by setting HungThreshold.
func DefaultConfig() Config {
	return Config{
		HungThreshold:   0,
		MaxHungRestarts: 1,
	}
}
