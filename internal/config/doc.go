// Package config loads and validates the TOML configuration shared by the
// nexus daemon and CLI.
package config
