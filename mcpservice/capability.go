package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
)

// Kind names a capability kind.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Tool is a callable capability. Execute receives the call arguments as a
// serialized JSON object and returns a serialized result.
type Tool interface {
	Name() string
	Description() string
	// InputSchema and OutputSchema return JSON Schema documents. A nil
	// return is advertised as an unconstrained object schema.
	InputSchema() json.RawMessage
	OutputSchema() json.RawMessage
	Execute(ctx context.Context, input string) (string, error)
}

// Resource is a readable capability identified by URI.
type Resource interface {
	URI() string
	Name() string
	Description() string
	MimeType() string
	Read(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
}

// ResourceMetadata is optionally implemented by a Resource to advertise a
// title, a size in bytes and icons. Zero values are omitted from listings.
type ResourceMetadata interface {
	Title() string
	Size() (int64, bool)
	Icons() []mcp.Icon
}

// ResourceWatcher is optionally implemented by a Resource whose content can
// change. The channel receives a signal per change and is closed when the
// resource stops watching.
type ResourceWatcher interface {
	Updates() <-chan struct{}
}

// Prompt is a templated message producer. Execute receives the prompt
// arguments as a serialized JSON object of strings.
type Prompt interface {
	Name() string
	Description() string
	Arguments() []mcp.PromptArgument
	Execute(ctx context.Context, input string) (*PromptResult, error)
}

// PromptResult is the rendered output of a prompt. Message is delivered as a
// single user-role text message.
type PromptResult struct {
	Description string
	Message     string
}

// ExecutionResult is the normalized outcome of a tool call.
type ExecutionResult struct {
	Content           string
	IsError           bool
	StructuredContent json.RawMessage
}

// NotFoundError is returned when no capability is registered under an
// identity.
type NotFoundError struct {
	Kind     Kind
	Identity string
}

func (e *NotFoundError) Error() string {
	label := "name"
	if e.Kind == KindResource {
		label = "URI"
	}
	return fmt.Sprintf("%s with %s %s is not found", e.Kind, label, e.Identity)
}

var (
	_ Tool     = (*FuncTool)(nil)
	_ Resource = (*StaticResource)(nil)
	_ Resource = (*FileResource)(nil)
	_ Prompt   = (*FuncPrompt)(nil)

	_ ResourceMetadata = (*StaticResource)(nil)
	_ ResourceMetadata = (*FileResource)(nil)
	_ ResourceWatcher  = (*FileResource)(nil)
)
