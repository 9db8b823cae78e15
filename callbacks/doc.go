// Package callbacks provides handlers of session and tool events:
// printing, logging, fanout and per-session transcripts.
package callbacks
