package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
)

// PromptRegistry holds the server's prompts keyed by name.
type PromptRegistry struct {
	*Registry[Prompt]
}

// NewPromptRegistry returns an empty PromptRegistry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{Registry: newRegistry[Prompt](KindPrompt, Prompt.Name, nil)}
}

// Descriptors returns the listing form of every prompt, ordered by name.
func (r *PromptRegistry) Descriptors() []mcp.Prompt {
	list := r.List()
	out := make([]mcp.Prompt, 0, len(list))
	for _, p := range list {
		args := p.Arguments()
		if args == nil {
			args = []mcp.PromptArgument{}
		}
		out = append(out, mcp.Prompt{
			Name:        p.Name(),
			Description: p.Description(),
			Arguments:   args,
		})
	}
	return out
}

// Execute checks that every required argument is present and renders the
// prompt registered under name.
func (r *PromptRegistry) Execute(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, r.notFound(name)
	}
	for _, a := range p.Arguments() {
		if _, ok := args[a.Name]; a.Required && !ok {
			return nil, fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, a.Name)
		}
	}
	if args == nil {
		args = map[string]string{}
	}
	input, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode prompt arguments: %w", err)
	}
	res, err := p.Execute(ctx, string(input))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("prompt %s returned no result", name)
	}
	return res, nil
}

// FuncPrompt is a Prompt backed by a function.
type FuncPrompt struct {
	name        string
	description string
	arguments   []mcp.PromptArgument
	fn          func(ctx context.Context, input string) (*PromptResult, error)
}

// NewFuncPrompt builds a Prompt from explicit argument descriptions and a
// function over the serialized argument object.
func NewFuncPrompt(name, description string, arguments []mcp.PromptArgument, fn func(ctx context.Context, input string) (*PromptResult, error)) *FuncPrompt {
	return &FuncPrompt{name: name, description: description, arguments: arguments, fn: fn}
}

func (p *FuncPrompt) Name() string                    { return p.name }
func (p *FuncPrompt) Description() string             { return p.description }
func (p *FuncPrompt) Arguments() []mcp.PromptArgument { return p.arguments }

func (p *FuncPrompt) Execute(ctx context.Context, input string) (*PromptResult, error) {
	return p.fn(ctx, input)
}

// NewPrompt builds a Prompt whose arguments are reflected from the string
// fields of A. Field descriptions come from jsonschema struct tags; fields
// without omitempty are required.
func NewPrompt[A any](name, description string, fn func(ctx context.Context, args A) (*PromptResult, error)) *FuncPrompt {
	exec := func(ctx context.Context, input string) (*PromptResult, error) {
		var a A
		if err := json.Unmarshal([]byte(input), &a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return fn(ctx, a)
	}
	return NewFuncPrompt(name, description, reflectPromptArguments[A](), exec)
}
