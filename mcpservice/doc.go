// Package mcpservice provides the capability layer of the server: the Tool,
// Resource and Prompt interfaces that feature code implements, and the
// registries that the dispatcher queries for listing and execution.
//
// Capabilities are shared handles. A single registered Tool instance serves
// every session's calls to that tool, so implementations that hold mutable
// state must synchronize it themselves.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Text string `json:"text" jsonschema:"description=Text to echo"`
//	}
//	type EchoOut struct {
//	    Text string `json:"text"`
//	}
//
//	tools := mcpservice.NewToolRegistry()
//	_ = tools.Add(mcpservice.NewTool("echo", "Echo text back",
//	    func(ctx context.Context, a EchoArgs) (EchoOut, error) {
//	        return EchoOut{Text: a.Text}, nil
//	    },
//	))
//
//	resources := mcpservice.NewResourceRegistry()
//	_ = resources.Add(mcpservice.NewTextResource("res://hello.txt", "hello", "text/plain", "hello"))
//
// Registries are ordered by identity (tool and prompt name, resource URI),
// never by registration order. Add overwrites an existing registration with
// the same identity and signals a list change to subscribers.
package mcpservice
