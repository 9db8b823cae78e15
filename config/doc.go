// Package config loads the agent settings and the tool servers to attach
// from a YAML or JSON file.
package config
