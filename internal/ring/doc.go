// Package ring dispatches ring commands to lab doorbell devices over
// the message bus.
//
// The Dispatcher owns the full validated path from a raw lab string to
// a bus publish: registry resolution, session validation, publish at
// QoS 1, then cooldown recording. The payload is the fixed duration
// directive "ms=3000" — clients never control ring length.
//
// The payload codec (Payload / ParseDuration) is the wire contract
// shared with the device firmware and the bellsim simulator.
package ring
