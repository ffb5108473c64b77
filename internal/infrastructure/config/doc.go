// Package config loads and validates Bellcore configuration.
//
// Configuration is layered: hardcoded defaults, then a YAML file, then
// BELLCORE_* environment variables. The admin secret is the only value
// that must come from the operator; everything else has a working
// default for local development against a localhost Mosquitto broker.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	threshold := cfg.OnlineThreshold()
package config
