// Package config loads the insights worker configuration from environment
// variables, with an optional YAML file overlay for deployments that
// prefer file-based configuration. Values are validated once at load time
// and treated as immutable afterwards.
package config
