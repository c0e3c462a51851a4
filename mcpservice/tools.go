package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultObjectSchema is advertised for tools that declare no schema.
var DefaultObjectSchema = json.RawMessage(`{"type":"object"}`)

// ErrInvalidArguments is wrapped when tool arguments fail schema validation.
var ErrInvalidArguments = errors.New("invalid arguments")

// ToolRegistry holds the server's tools. Each tool's input schema is compiled
// once at Add time and used to validate arguments before Execute.
type ToolRegistry struct {
	*Registry[Tool]
}

// NewToolRegistry returns an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		Registry: newRegistry(KindTool, Tool.Name, compileInputSchema),
	}
}

func compileInputSchema(t Tool) (any, error) {
	raw := t.InputSchema()
	if len(raw) == 0 {
		return nil, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile input schema: %w", t.Name(), err)
	}
	return schema, nil
}

// Descriptors returns the listing form of every tool, ordered by name.
func (r *ToolRegistry) Descriptors() []mcp.Tool {
	tools := r.List()
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, mcp.Tool{
			Name:         t.Name(),
			Description:  t.Description(),
			InputSchema:  schemaOrDefault(t.InputSchema()),
			OutputSchema: schemaOrDefault(t.OutputSchema()),
		})
	}
	return out
}

func schemaOrDefault(s json.RawMessage) json.RawMessage {
	if len(s) == 0 {
		return DefaultObjectSchema
	}
	return s
}

// Execute validates input against the tool's input schema and runs it.
func (r *ToolRegistry) Execute(ctx context.Context, name string, input string) (string, error) {
	e, ok := r.lookup(name)
	if !ok {
		return "", r.notFound(name)
	}
	if input == "" {
		input = "{}"
	}
	if schema, ok := e.aux.(*gojsonschema.Schema); ok && schema != nil {
		if err := validateArguments(schema, input); err != nil {
			return "", err
		}
	}
	return e.handle.Execute(ctx, input)
}

func validateArguments(schema *gojsonschema.Schema, input string) error {
	res, err := schema.Validate(gojsonschema.NewStringLoader(input))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		msgs = append(msgs, re.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}

// Call runs Execute and reduces the outcome to an ExecutionResult. Errors,
// including a cancelled context, become IsError results carrying the error
// text. A successful output is attached as structured content verbatim when
// it is valid JSON and as a JSON string otherwise.
func (r *ToolRegistry) Call(ctx context.Context, name string, input string) ExecutionResult {
	out, err := r.Execute(ctx, name, input)
	if err != nil {
		return ExecutionResult{Content: err.Error(), IsError: true}
	}
	return ExecutionResult{Content: out, StructuredContent: structured(out)}
}

func structured(out string) json.RawMessage {
	if json.Valid([]byte(out)) {
		return json.RawMessage(out)
	}
	b, _ := json.Marshal(out)
	return b
}

// FuncTool is a Tool backed by a function and literal schemas.
type FuncTool struct {
	name         string
	description  string
	inputSchema  json.RawMessage
	outputSchema json.RawMessage
	fn           func(ctx context.Context, input string) (string, error)
}

// NewFuncTool builds a Tool from raw schemas and a function over serialized
// input. Either schema may be nil.
func NewFuncTool(name, description string, inputSchema, outputSchema json.RawMessage, fn func(ctx context.Context, input string) (string, error)) *FuncTool {
	return &FuncTool{
		name:         name,
		description:  description,
		inputSchema:  inputSchema,
		outputSchema: outputSchema,
		fn:           fn,
	}
}

func (t *FuncTool) Name() string                  { return t.name }
func (t *FuncTool) Description() string           { return t.description }
func (t *FuncTool) InputSchema() json.RawMessage  { return t.inputSchema }
func (t *FuncTool) OutputSchema() json.RawMessage { return t.outputSchema }

func (t *FuncTool) Execute(ctx context.Context, input string) (string, error) {
	return t.fn(ctx, input)
}

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	allowAdditionalProperties bool
}

// WithToolAllowAdditionalProperties controls whether the reflected input
// schema accepts members not declared on the argument struct. Default false.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a Tool from typed input A and output O. Both schemas are
// reflected from the Go types; arguments are decoded into A and the returned
// O is encoded as the serialized result.
func NewTool[A, O any](name, description string, fn func(ctx context.Context, args A) (O, error), opts ...ToolOption) *FuncTool {
	var cfg toolConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	exec := func(ctx context.Context, input string) (string, error) {
		var a A
		if err := json.Unmarshal([]byte(input), &a); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		o, err := fn(ctx, a)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(o)
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		return string(b), nil
	}

	return NewFuncTool(name, description,
		reflectObjectSchema[A](cfg.allowAdditionalProperties),
		reflectObjectSchema[O](true),
		exec,
	)
}
