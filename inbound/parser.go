package inbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ggoodman/mcp-sse-middleware/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-middleware/mcp"
)

// ParamPolicy controls how a method reacts to malformed or missing params.
type ParamPolicy int

const (
	// Strict rejects the request with a *ParamsError.
	Strict ParamPolicy = iota
	// Lenient substitutes the zero value of the parameter model.
	Lenient
)

func (p ParamPolicy) String() string {
	if p == Lenient {
		return "lenient"
	}
	return "strict"
}

// ErrMissingParams is wrapped by ParamsError when a Strict method receives no
// params or lacks a required member.
var ErrMissingParams = errors.New("missing required params")

// ParamsError reports a parameter-shape failure for one request.
type ParamsError struct {
	Method string
	Err    error
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s: %v", e.Method, e.Err)
}

func (e *ParamsError) Unwrap() error { return e.Err }

// Payload is a fully decoded inbound message.
type Payload struct {
	Version string
	ID      *jsonrpc.RequestID
	Request Request
}

// IsNotification reports whether no response must be sent for p. This holds
// for every method under the notifications/ namespace, with or without id.
func (p *Payload) IsNotification() bool {
	return strings.HasPrefix(p.Request.MethodName(), mcp.NotificationPrefix)
}

// Option configures a Parser.
type Option func(*Parser)

// WithParamPolicy overrides the policy applied to method.
func WithParamPolicy(method mcp.Method, policy ParamPolicy) Option {
	return func(p *Parser) {
		p.policies[method] = policy
	}
}

// Parser builds Requests. The zero value is not usable; use NewParser.
type Parser struct {
	policies map[mcp.Method]ParamPolicy
}

// NewParser returns a Parser with the default policies (resources/list is
// Lenient, every other structured method is Strict) adjusted by opts.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		policies: map[mcp.Method]ParamPolicy{
			mcp.InitializeMethod:         Strict,
			mcp.ToolsCallMethod:          Strict,
			mcp.ResourcesListMethod:      Lenient,
			mcp.ResourcesReadMethod:      Strict,
			mcp.ResourcesSubscribeMethod: Strict,
			mcp.PromptsGetMethod:         Strict,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the policy in force for method.
func (p *Parser) Policy(method mcp.Method) ParamPolicy {
	return p.policies[method]
}

var defaultParser = NewParser()

// Decode decodes src with the default policies.
func Decode(src []byte) (*Payload, error) {
	return defaultParser.Decode(src)
}

// Parse maps method and raw params to a Request with the default policies.
func Parse(method string, params []byte) (Request, error) {
	return defaultParser.Parse(method, params)
}

// Decode runs the envelope decoder over src and then Parse. Errors are either
// a *jsonrpc.DecodeError or a *ParamsError. On a *ParamsError the returned
// payload is still populated with the envelope id and an Other request so the
// caller can address its error response.
func (p *Parser) Decode(src []byte) (*Payload, error) {
	env, err := jsonrpc.Decode(src)
	if err != nil {
		return nil, err
	}

	payload := &Payload{Version: env.Version, ID: env.ID}
	req, err := p.Parse(env.Method, env.Params)
	if err != nil {
		payload.Request = Other{Method: env.Method, Data: string(env.Params)}
		return payload, err
	}
	payload.Request = req
	return payload, nil
}

// Parse maps a method name and its raw params to a Request.
func (p *Parser) Parse(method string, params []byte) (Request, error) {
	switch mcp.Method(method) {
	case mcp.InitializeMethod:
		var m mcp.InitializeRequest
		if err := p.decode(mcp.InitializeMethod, params, &m, func() bool { return m.ProtocolVersion != "" }); err != nil {
			return nil, err
		}
		return Initialize{ProtocolVersion: m.ProtocolVersion, ClientInfo: m.ClientInfo}, nil

	case mcp.InitializedNotificationMethod:
		return NotificationsInitialized{}, nil

	case mcp.ToolsListMethod:
		return ToolsList{}, nil

	case mcp.ToolsCallMethod:
		var m mcp.CallToolRequest
		if err := p.decode(mcp.ToolsCallMethod, params, &m, func() bool { return m.Name != "" }); err != nil {
			return nil, err
		}
		args := m.Arguments
		if len(args) == 0 || bytes.Equal(args, []byte("null")) {
			args = json.RawMessage("{}")
		}
		return ToolsCall{Name: m.Name, Arguments: args}, nil

	case mcp.ResourcesListMethod:
		var m mcp.ListResourcesRequest
		if err := p.decode(mcp.ResourcesListMethod, params, &m, nil); err != nil {
			return nil, err
		}
		return ResourcesList{Cursor: m.Cursor}, nil

	case mcp.ResourcesReadMethod:
		var m mcp.ReadResourceRequest
		if err := p.decode(mcp.ResourcesReadMethod, params, &m, func() bool { return m.URI != "" }); err != nil {
			return nil, err
		}
		return ResourcesRead{URI: m.URI}, nil

	case mcp.ResourcesSubscribeMethod:
		var m mcp.SubscribeRequest
		if err := p.decode(mcp.ResourcesSubscribeMethod, params, &m, func() bool { return m.URI != "" }); err != nil {
			return nil, err
		}
		return ResourcesSubscribe{URI: m.URI}, nil

	case mcp.PromptsListMethod:
		return PromptsList{}, nil

	case mcp.PromptsGetMethod:
		var m mcp.GetPromptRequest
		if err := p.decode(mcp.PromptsGetMethod, params, &m, func() bool { return m.Name != "" }); err != nil {
			return nil, err
		}
		return PromptsGet{Name: m.Name, Arguments: m.Arguments}, nil

	case mcp.PingMethod:
		return Ping{}, nil

	default:
		return Other{Method: method, Data: string(params)}, nil
	}
}

// decode unmarshals params into dst under the method's policy. complete
// reports whether the required members were present; nil means none are
// required. On a Lenient failure dst is reset to its zero value.
func (p *Parser) decode(method mcp.Method, params []byte, dst any, complete func() bool) error {
	policy := p.Policy(method)

	fail := func(err error) error {
		if policy == Lenient {
			resetZero(dst)
			return nil
		}
		return &ParamsError{Method: string(method), Err: err}
	}

	if len(bytes.TrimSpace(params)) == 0 {
		if complete == nil {
			return nil
		}
		return fail(ErrMissingParams)
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return fail(err)
	}
	if complete != nil && !complete() {
		return fail(ErrMissingParams)
	}
	return nil
}

func resetZero(dst any) {
	reflect.ValueOf(dst).Elem().SetZero()
}
