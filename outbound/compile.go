package outbound

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-sse-middleware/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-middleware/mcp"
	"github.com/ggoodman/mcp-sse-middleware/mcpservice"
)

// DataPrefix starts every frame.
const DataPrefix = "data: "

type resultMessage struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Result  any    `json:"result"`
}

type errorMessage struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Error   errorObject `json:"error"`
}

type errorObject struct {
	Code    jsonrpc.ErrorCode `json:"code"`
	Message string            `json:"message"`
}

type notificationMessage struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func frame(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(DataPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("outbound: encode frame: %w", err)
	}
	// Encode terminated the object with one newline; the second ends the event.
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Result frames an arbitrary result object for id.
func Result(id *jsonrpc.RequestID, result any) ([]byte, error) {
	return frame(resultMessage{JSONRPC: jsonrpc.ProtocolVersion, ID: id.Value(), Result: result})
}

// Error frames a JSON-RPC error for id.
func Error(id *jsonrpc.RequestID, code jsonrpc.ErrorCode, message string) ([]byte, error) {
	return frame(errorMessage{
		JSONRPC: jsonrpc.ProtocolVersion,
		ID:      id.Value(),
		Error:   errorObject{Code: code, Message: message},
	})
}

// Notification frames a server-initiated notification. params may be nil.
func Notification(method mcp.Method, params any) ([]byte, error) {
	return frame(notificationMessage{JSONRPC: jsonrpc.ProtocolVersion, Method: string(method), Params: params})
}

// InitParams carries what the initialize response advertises.
type InitParams struct {
	ProtocolVersion string
	ServerInfo      mcp.ImplementationInfo
	Instructions    string
	HasTools        bool
	HasResources    bool
	HasPrompts      bool
}

// Initialize frames the initialize response. A capability kind appears in
// capabilities only when its registry is non-empty.
func Initialize(id *jsonrpc.RequestID, p InitParams) ([]byte, error) {
	var caps mcp.ServerCapabilities
	if p.HasResources {
		caps.Resources = &mcp.ListChangedCapability{ListChanged: true}
	}
	if p.HasTools {
		caps.Tools = &mcp.ListChangedCapability{ListChanged: true}
	}
	if p.HasPrompts {
		caps.Prompts = &mcp.ListChangedCapability{ListChanged: true}
	}
	return Result(id, mcp.InitializeResult{
		ProtocolVersion: p.ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      p.ServerInfo,
		Instructions:    p.Instructions,
	})
}

// ToolsList frames tools/list. Missing schemas are advertised as an
// unconstrained object.
func ToolsList(id *jsonrpc.RequestID, tools []mcp.Tool) ([]byte, error) {
	out := make([]mcp.Tool, len(tools))
	for i, t := range tools {
		if len(t.InputSchema) == 0 {
			t.InputSchema = mcpservice.DefaultObjectSchema
		}
		if len(t.OutputSchema) == 0 {
			t.OutputSchema = mcpservice.DefaultObjectSchema
		}
		out[i] = t
	}
	return Result(id, mcp.ListToolsResult{Tools: out})
}

// PromptsList frames prompts/list.
func PromptsList(id *jsonrpc.RequestID, prompts []mcp.Prompt) ([]byte, error) {
	out := make([]mcp.Prompt, len(prompts))
	for i, p := range prompts {
		if p.Arguments == nil {
			p.Arguments = []mcp.PromptArgument{}
		}
		out[i] = p
	}
	return Result(id, mcp.ListPromptsResult{Prompts: out})
}

// ResourcesList frames resources/list. nextCursor is emitted only when
// non-empty; icon sizes are always emitted as an array.
func ResourcesList(id *jsonrpc.RequestID, resources []mcp.Resource, nextCursor string) ([]byte, error) {
	out := make([]mcp.Resource, len(resources))
	for i, r := range resources {
		if len(r.Icons) > 0 {
			icons := make([]mcp.Icon, len(r.Icons))
			for j, ic := range r.Icons {
				if ic.Sizes == nil {
					ic.Sizes = []string{}
				}
				icons[j] = ic
			}
			r.Icons = icons
		} else {
			r.Icons = nil
		}
		out[i] = r
	}
	return Result(id, mcp.ListResourcesResult{Resources: out, NextCursor: nextCursor})
}

// GetPrompt frames prompts/get with one user-role text message. A nil res
// frames an empty message.
func GetPrompt(id *jsonrpc.RequestID, res *mcpservice.PromptResult) ([]byte, error) {
	if res == nil {
		res = &mcpservice.PromptResult{}
	}
	return Result(id, mcp.GetPromptResult{
		Description: res.Description,
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.TextContent(res.Message),
		}},
	})
}

// ReadResource frames resources/read.
func ReadResource(id *jsonrpc.RequestID, res *mcp.ReadResourceResult) ([]byte, error) {
	contents := res.Contents
	if contents == nil {
		contents = []mcp.ResourceContents{}
	}
	return Result(id, mcp.ReadResourceResult{Contents: contents})
}

// ToolResult frames tools/call. content always holds one text block, isError
// is always present, and structuredContent is attached only on success.
func ToolResult(id *jsonrpc.RequestID, res mcpservice.ExecutionResult) ([]byte, error) {
	out := mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(res.Content)},
		IsError: res.IsError,
	}
	if !res.IsError {
		out.StructuredContent = res.StructuredContent
		if len(out.StructuredContent) == 0 {
			b, err := json.Marshal(res.Content)
			if err != nil {
				return nil, fmt.Errorf("outbound: encode structured content: %w", err)
			}
			out.StructuredContent = b
		}
	}
	return Result(id, out)
}

// Ping frames the empty ping result.
func Ping(id *jsonrpc.RequestID) ([]byte, error) {
	return Empty(id)
}

// Empty frames an empty result object.
func Empty(id *jsonrpc.RequestID) ([]byte, error) {
	return Result(id, mcp.EmptyResult{})
}
