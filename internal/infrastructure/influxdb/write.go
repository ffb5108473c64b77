package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteRingEvent records the outcome of a ring attempt.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - labID: Normalised lab identifier (e.g., "LAPADA")
//   - outcome: Result of the attempt ("ok", "rate_limited", "cooldown", ...)
//   - durationMs: Requested chime duration in milliseconds (0 when unknown)
func (c *Client) WriteRingEvent(labID string, outcome string, durationMs int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"ring_events",
		map[string]string{
			"lab_id":  labID,
			"outcome": outcome,
		},
		map[string]interface{}{
			"count":       1,
			"duration_ms": durationMs,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHeartbeat records a device heartbeat observation.
//
// Used to chart lab availability over time alongside the live
// presence threshold.
func (c *Client) WriteHeartbeat(labID string, seenAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lab_heartbeats",
		map[string]string{
			"lab_id": labID,
		},
		map[string]interface{}{
			"count": 1,
		},
		seenAt,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
