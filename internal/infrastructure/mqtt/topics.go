package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout.
//
// The lab/<ID>/... hierarchy is the wire contract with the embedded
// doorbell devices and must not change: devices subscribe to their ring
// topic and publish retained heartbeats on their status topic. The
// bellcore/... hierarchy is internal to the service.
const (
	// TopicPrefixLab is the base for all per-lab device topics.
	TopicPrefixLab = "lab"

	// TopicPrefixSystem is the base for Bellcore system topics.
	TopicPrefixSystem = "bellcore/system"
)

// Topics provides builders for Bellcore MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	ringTopic := topics.LabRing("LAPADA")
//	// Returns: "lab/LAPADA/ring"
type Topics struct{}

// LabRing returns the ring command topic for a lab.
//
// Example: lab/LAPADA/ring
func (Topics) LabRing(labID string) string {
	return fmt.Sprintf("%s/%s/ring", TopicPrefixLab, labID)
}

// LabStatus returns the heartbeat/status topic for a lab.
// Devices publish retained "online" payloads here on a fixed interval.
//
// Example: lab/LAPADA/status
func (Topics) LabStatus(labID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixLab, labID)
}

// AllLabStatus returns a wildcard pattern matching every lab's status topic.
//
// Pattern: lab/+/status
func (Topics) AllLabStatus() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixLab)
}

// SystemStatus returns the service status topic used for the LWT and
// graceful online/offline announcements.
//
// Example: bellcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// labTopicSegments is the segment count of per-lab topics (lab/<ID>/<leaf>).
const labTopicSegments = 3

// LabFromStatusTopic extracts the lab identifier segment from a status
// topic. It returns "" for anything that is not exactly lab/<ID>/status;
// callers still have to normalise and registry-check the result before
// using it as a map key.
func LabFromStatusTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != labTopicSegments || parts[0] != TopicPrefixLab || parts[2] != "status" {
		return ""
	}
	return parts[1]
}
