// Package rpc implements the tool federation protocol: newline delimited
// JSON-RPC 2.0 messages over a byte stream, with a Server that exposes a
// tools.Registry and a Client that imports remote tools into one.
//
// Each message is a single UTF-8 JSON object terminated by '\n'.
// Supported methods are server/info, initialize, ping, tools/list and tools/call.
package rpc
