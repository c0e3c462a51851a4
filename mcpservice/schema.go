package mcpservice

import (
	"encoding/json"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
	"github.com/invopop/jsonschema"
)

func reflectSchema[T any](allowAdditional bool) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(T))
	if s != nil {
		s.Version = ""
		s.ID = ""
	}
	return s
}

// reflectObjectSchema reflects T into a JSON Schema document. Types that do
// not reflect to an object fall back to DefaultObjectSchema.
func reflectObjectSchema[T any](allowAdditional bool) json.RawMessage {
	s := reflectSchema[T](allowAdditional)
	if s == nil || s.Type != "object" {
		return DefaultObjectSchema
	}
	b, err := json.Marshal(s)
	if err != nil {
		return DefaultObjectSchema
	}
	return b
}

// reflectPromptArguments derives prompt arguments from the top-level
// properties of T, in declaration order.
func reflectPromptArguments[T any]() []mcp.PromptArgument {
	s := reflectSchema[T](false)
	if s == nil || s.Properties == nil {
		return nil
	}
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}
	args := make([]mcp.PromptArgument, 0, s.Properties.Len())
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		args = append(args, mcp.PromptArgument{
			Name:        el.Key,
			Description: el.Value.Description,
			Required:    required[el.Key],
		})
	}
	return args
}
