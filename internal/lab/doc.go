// Package lab defines lab identifiers and the static registry of
// registered labs.
//
// Every other component treats lab.ID as the only acceptable key type:
// raw strings from HTTP bodies or MQTT topic segments must pass through
// Normalize (or Registry.Resolve) first. The registry itself is built
// once at startup from configuration and never mutates, so reads need
// no locking.
package lab
