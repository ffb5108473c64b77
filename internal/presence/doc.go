// Package presence tracks which labs are automatically online based on
// device heartbeats received over MQTT.
//
// Devices publish a retained heartbeat on lab/<ID>/status every 10
// seconds. The MQTT subscription hands the topic's lab segment to
// Tracker.Ingest, which validates it against the registry and queues it
// on a bounded channel; Tracker.Run owns all map mutation. A lab is
// auto-online when its last heartbeat is within the configured
// threshold. Manual overrides (package override) take precedence over
// everything computed here.
package presence
