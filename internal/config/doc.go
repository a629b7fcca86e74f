// Package config loads the client configuration from YAML, applies
// environment overrides and validates every section.
package config
