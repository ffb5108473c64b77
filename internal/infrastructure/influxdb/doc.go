// Package influxdb provides optional time-series telemetry for ring
// events and lab heartbeats.
//
// The integration is disabled by default. When enabled, writes are
// batched and non-blocking so a slow or absent InfluxDB never stalls
// the ring path.
package influxdb
