package inbound

import (
	"encoding/json"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
)

// Request is one typed inbound request. The set of implementations is closed.
type Request interface {
	// MethodName returns the JSON-RPC method the request was decoded from.
	MethodName() string
	isRequest()
}

type Initialize struct {
	ProtocolVersion string
	ClientInfo      mcp.ImplementationInfo
}

type NotificationsInitialized struct{}

type ToolsList struct{}

// ToolsCall carries the raw arguments; the tool itself decides their shape.
type ToolsCall struct {
	Name      string
	Arguments json.RawMessage
}

// ResourcesList has a nil Cursor when the first page is requested.
type ResourcesList struct {
	Cursor *string
}

type ResourcesRead struct {
	URI string
}

type ResourcesSubscribe struct {
	URI string
}

type PromptsList struct{}

type PromptsGet struct {
	Name      string
	Arguments map[string]string
}

type Ping struct{}

// Other is any method this package does not model. Data is the verbatim
// params span, or "" when params were absent.
type Other struct {
	Method string
	Data   string
}

func (Initialize) MethodName() string               { return string(mcp.InitializeMethod) }
func (NotificationsInitialized) MethodName() string { return string(mcp.InitializedNotificationMethod) }
func (ToolsList) MethodName() string                { return string(mcp.ToolsListMethod) }
func (ToolsCall) MethodName() string                { return string(mcp.ToolsCallMethod) }
func (ResourcesList) MethodName() string            { return string(mcp.ResourcesListMethod) }
func (ResourcesRead) MethodName() string            { return string(mcp.ResourcesReadMethod) }
func (ResourcesSubscribe) MethodName() string       { return string(mcp.ResourcesSubscribeMethod) }
func (PromptsList) MethodName() string              { return string(mcp.PromptsListMethod) }
func (PromptsGet) MethodName() string               { return string(mcp.PromptsGetMethod) }
func (Ping) MethodName() string                     { return string(mcp.PingMethod) }
func (o Other) MethodName() string                  { return o.Method }

func (Initialize) isRequest()               {}
func (NotificationsInitialized) isRequest() {}
func (ToolsList) isRequest()                {}
func (ToolsCall) isRequest()                {}
func (ResourcesList) isRequest()            {}
func (ResourcesRead) isRequest()            {}
func (ResourcesSubscribe) isRequest()       {}
func (PromptsList) isRequest()              {}
func (PromptsGet) isRequest()               {}
func (Ping) isRequest()                     {}
func (Other) isRequest()                    {}
