// Package agent runs the reasoning loop: the model thinks, optionally calls
// tools, observes their results and repeats until it gives a final answer
// or runs out of steps.
package agent
