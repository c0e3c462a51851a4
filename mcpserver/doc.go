// Package mcpserver routes decoded MCP messages for a session to the tool,
// resource and prompt registries and compiles the answer into an SSE frame.
//
// A Server is transport agnostic: it takes an already decoded
// inbound.Payload plus the sessions.Session it belongs to and returns the
// frame to deliver, or nil for notifications. The streaminghttp package wires
// it to net/http.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message"`
//	}
//
//	srv := mcpserver.New(
//	    mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	)
//	_ = srv.Tools().Add(mcpservice.NewTool("echo", "Echo a message",
//	    func(ctx context.Context, a EchoArgs) (string, error) {
//	        return "you said: " + a.Message, nil
//	    },
//	))
//
//	go srv.Run(ctx)
//
// Run fans out list_changed and resources/updated notifications to the
// streams of live sessions; it is optional when the registries are fixed at
// startup and no resource is watched.
package mcpserver
