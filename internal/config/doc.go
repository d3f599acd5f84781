// Package config loads, normalizes, and validates miner service configuration.
//
// Precedence is environment variable over TOML file over repository default,
// matching how operators deploy the agent: a config file for stable settings
// and env vars for per-host overrides. The Config type centralizes every knob
// the daemon and CLI need, so downstream code receives sanitized paths and
// clear validation errors.
package config
