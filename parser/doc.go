// Package parser extracts a thought, tool calls and a final answer
// from a free-text model reply.
//
// A reply is split on the markers Thought:, Action:, Observation: and
// Final Answer: found at the start of a line. The JSON of an Action block
// is isolated by balanced-brace scanning and, when it does not decode,
// repaired by a fixed sequence of heuristics.
package parser
