// Package encoding renders values such as session traces as JSON, YAML or TOML.
package encoding
