// Package timeout defines centralized timeout constants for backend operations.
package timeout

import "time"

const (
	// StreamTimeout is the deadline for a streaming round trip to a backend.
	// A call that has produced no terminal event by then surfaces as Failed.
	StreamTimeout = 5 * time.Minute

	// BlockingTimeout is the deadline for a non-streaming round trip,
	// used by the historian summarization call.
	BlockingTimeout = 2 * time.Minute

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	MaxTruncateLength = 200
)
