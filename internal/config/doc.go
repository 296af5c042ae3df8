// Package config loads, validates, and normalizes cadence configuration
// from TOML files, providing repository defaults for every setting.
package config
