package ring

import "errors"

// Domain errors for the ring package.
var (
	// ErrPublishFailed is returned when the bus publish fails or times
	// out. The cooldown is NOT recorded in that case; the client may
	// retry manually.
	ErrPublishFailed = errors.New("ring: publish failed")
)
