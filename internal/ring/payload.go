package ring

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire contract with the doorbell devices.
//
// The ring payload encodes a duration directive as "ms=<integer>". The
// duration is never client-controlled: the relay always sends
// DefaultDurationMs. Devices parse defensively and clamp to the range
// below, falling back to the default when the payload is malformed.
const (
	// DefaultDurationMs is the fixed ring duration sent with every command.
	DefaultDurationMs = 3000

	// MinDurationMs and MaxDurationMs bound what a device will accept.
	MinDurationMs = 1
	MaxDurationMs = 10000
)

// Payload returns the constant ring payload ("ms=3000").
func Payload() string {
	return fmt.Sprintf("ms=%d", DefaultDurationMs)
}

// ParseDuration decodes a ring payload the way the device firmware does:
// "ms=<n>" with n in [1,10000], or a bare integer in the same range.
// Anything else falls back to the default duration. Used by the device
// simulator and shared here because it is the wire contract.
func ParseDuration(payload string) time.Duration {
	s := strings.TrimSpace(payload)

	if rest, ok := strings.CutPrefix(s, "ms="); ok {
		if ms, err := strconv.Atoi(rest); err == nil && ms >= MinDurationMs && ms <= MaxDurationMs {
			return time.Duration(ms) * time.Millisecond
		}
		return DefaultDurationMs * time.Millisecond
	}

	if ms, err := strconv.Atoi(s); err == nil && ms >= MinDurationMs && ms <= MaxDurationMs {
		return time.Duration(ms) * time.Millisecond
	}

	return DefaultDurationMs * time.Millisecond
}
