// Package tools provides the tool model used by the agent: descriptors,
// a concurrency safe registry, argument validation and an invoker that runs
// local and remote tools with timeouts and failure isolation.
package tools
