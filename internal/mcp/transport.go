package mcp

import (
	"context"
	"encoding/json"
)

// Transport carries JSON-RPC 2.0 traffic between the client and a single
// MCP server process. agentcore only launches servers as subprocesses over
// stdio, so StdioTransport is the only implementation, but tests substitute
// their own to drive Client without a real subprocess.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Events returns a channel for receiving notifications from the server.
	Events() <-chan *JSONRPCNotification

	// Requests returns a channel for receiving server-initiated requests
	// (e.g. sampling/createMessage).
	Requests() <-chan *JSONRPCRequest

	// Respond sends a response to a server-initiated request.
	Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error

	// Connected returns whether the transport is connected.
	Connected() bool
}

// NewTransport builds the transport for a server config. There is only one
// kind today; it is still a function (rather than a bare struct literal) so
// Client construction doesn't need to change if a second transport shows up.
func NewTransport(cfg *ServerConfig) Transport {
	return NewStdioTransport(cfg)
}
