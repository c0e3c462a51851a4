package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-sse-middleware/inbound"
	"github.com/ggoodman/mcp-sse-middleware/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-middleware/internal/logctx"
	"github.com/ggoodman/mcp-sse-middleware/mcpservice"
	"github.com/ggoodman/mcp-sse-middleware/outbound"
	"github.com/ggoodman/mcp-sse-middleware/sessions"
)

var (
	// ErrMethodNotFound may be returned by a FallbackFunc.
	ErrMethodNotFound = errors.New("method not found")
	// ErrAlreadyInitialized is reported for a second initialize on a session.
	ErrAlreadyInitialized = errors.New("session already initialized")
)

// Decode decodes one inbound message with the server's parameter policies.
// See inbound.Parser.Decode for the error contract.
func (s *Server) Decode(src []byte) (*inbound.Payload, error) {
	return s.parser.Decode(src)
}

// Reject compiles the error frame for a Decode failure. p may be nil when the
// envelope itself could not be decoded, in which case the frame carries id 0.
// No frame is produced for notifications.
func (s *Server) Reject(p *inbound.Payload, err error) ([]byte, error) {
	var id *jsonrpc.RequestID
	if p != nil {
		if p.IsNotification() {
			return nil, nil
		}
		id = p.ID
	}

	var decErr *jsonrpc.DecodeError
	var paramsErr *inbound.ParamsError
	switch {
	case errors.As(err, &decErr):
		return outbound.Error(id, decErr.Code(), decErr.Error())
	case errors.As(err, &paramsErr):
		return outbound.Error(id, jsonrpc.ErrorCodeInvalidParams, paramsErr.Error())
	default:
		return outbound.Error(id, jsonrpc.ErrorCodeInternalError, err.Error())
	}
}

// HandleMessage decodes src and dispatches it for sess.
func (s *Server) HandleMessage(ctx context.Context, sess *sessions.Session, src []byte) ([]byte, error) {
	p, err := s.Decode(src)
	if err != nil {
		s.log.WarnContext(ctx, "rpc.decode.fail", slog.String("err", err.Error()))
		return s.Reject(p, err)
	}
	return s.Handle(ctx, sess, p)
}

// Handle dispatches p on behalf of sess and returns the compiled frame. The
// frame is nil for notifications. Capability execution is cancelled when
// either ctx is done or the session closes. A non-nil error means no frame,
// not even an error frame, could be encoded.
func (s *Server) Handle(ctx context.Context, sess *sessions.Session, p *inbound.Payload) ([]byte, error) {
	start := time.Now()
	method := p.Request.MethodName()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.Context(), cancel)
	defer stop()

	typ := "request"
	if p.IsNotification() {
		typ = "notification"
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: method, ID: p.ID.String(), Type: typ})
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		Stage:           sess.Stage().String(),
	})

	if err := sess.Accept(method, s.strict); err != nil {
		s.log.WarnContext(ctx, "rpc.inbound.rejected", slog.String("err", err.Error()))
		if p.IsNotification() {
			return nil, nil
		}
		if errors.Is(err, sessions.ErrNotInitialized) {
			return outbound.Error(p.ID, jsonrpc.ErrorCodeServerNotInitialized, "server not initialized")
		}
		return outbound.Error(p.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error())
	}

	if p.IsNotification() {
		s.handleNotification(ctx, sess, p)
		s.log.DebugContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return nil, nil
	}

	frame, err := s.handleRequest(ctx, sess, p)
	if err != nil {
		s.log.ErrorContext(ctx, "rpc.response.encode.fail", slog.String("err", err.Error()))
		return outbound.Error(p.ID, jsonrpc.ErrorCodeInternalError, "internal error")
	}
	s.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
	return frame, nil
}

func (s *Server) handleNotification(ctx context.Context, sess *sessions.Session, p *inbound.Payload) {
	switch req := p.Request.(type) {
	case inbound.NotificationsInitialized:
		if sess.ClientInitialized() == sessions.StageInitialized {
			s.persist(ctx, sess)
			s.log.InfoContext(ctx, "session.initialized")
		}
	case inbound.Other:
		if s.fallback == nil {
			return
		}
		if _, err := s.fallback(ctx, sess, req); err != nil {
			s.log.WarnContext(ctx, "notification.fallback.fail", slog.String("err", err.Error()))
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, sess *sessions.Session, p *inbound.Payload) ([]byte, error) {
	switch req := p.Request.(type) {
	case inbound.Initialize:
		return s.initialize(ctx, sess, p.ID, req)
	case inbound.Ping:
		return outbound.Ping(p.ID)
	case inbound.ToolsList:
		return outbound.ToolsList(p.ID, s.tools.Descriptors())
	case inbound.ToolsCall:
		return outbound.ToolResult(p.ID, s.callTool(ctx, sess, req))
	case inbound.ResourcesList:
		items, next := s.resources.Page(req.Cursor, s.pageSize)
		return outbound.ResourcesList(p.ID, items, next)
	case inbound.ResourcesRead:
		ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: string(mcpservice.KindResource), Identity: req.URI})
		res, err := s.resources.Read(ctx, req.URI)
		if err != nil {
			return s.capabilityError(ctx, p.ID, err)
		}
		return outbound.ReadResource(p.ID, res)
	case inbound.ResourcesSubscribe:
		if _, ok := s.resources.Get(req.URI); !ok {
			return s.capabilityError(ctx, p.ID, &mcpservice.NotFoundError{Kind: mcpservice.KindResource, Identity: req.URI})
		}
		sess.Subscribe(req.URI)
		s.log.DebugContext(ctx, "resource.subscribe.ok", slog.String("uri", req.URI))
		return outbound.Empty(p.ID)
	case inbound.PromptsList:
		return outbound.PromptsList(p.ID, s.prompts.Descriptors())
	case inbound.PromptsGet:
		ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: string(mcpservice.KindPrompt), Identity: req.Name})
		res, err := s.prompts.Execute(ctx, req.Name, req.Arguments)
		if err != nil {
			return s.capabilityError(ctx, p.ID, err)
		}
		return outbound.GetPrompt(p.ID, res)
	case inbound.Other:
		return s.handleOther(ctx, sess, p.ID, req)
	default:
		return outbound.Error(p.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method %q not found", p.Request.MethodName()))
	}
}

func (s *Server) initialize(ctx context.Context, sess *sessions.Session, id *jsonrpc.RequestID, req inbound.Initialize) ([]byte, error) {
	if sess.ProtocolVersion() != "" {
		s.log.WarnContext(ctx, "session.initialize.redundant")
		return outbound.Error(id, jsonrpc.ErrorCodeInvalidRequest, ErrAlreadyInitialized.Error())
	}

	frame, err := outbound.Initialize(id, outbound.InitParams{
		ProtocolVersion: s.protocolVersion,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
		HasTools:        s.tools.HasAny(),
		HasResources:    s.resources.HasAny(),
		HasPrompts:      s.prompts.HasAny(),
	})
	if err != nil {
		return nil, err
	}

	sess.InitializeResponded(s.protocolVersion, req.ClientInfo)
	s.persist(ctx, sess)
	s.log.InfoContext(ctx, "session.initialize.ok",
		slog.String("client_protocol_version", req.ProtocolVersion),
		slog.String("client_name", req.ClientInfo.Name),
	)
	return frame, nil
}

// callTool runs a tool under the configured concurrency policy. Waiting for
// a slot honors cancellation; a cancelled wait is reported as a tool error.
func (s *Server) callTool(ctx context.Context, sess *sessions.Session, req inbound.ToolsCall) mcpservice.ExecutionResult {
	ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: string(mcpservice.KindTool), Identity: req.Name})

	if s.serialTools {
		sem := s.serialSlot(sess)
		if err := sem.Acquire(ctx, 1); err != nil {
			return cancelledResult(err)
		}
		defer sem.Release(1)
	}
	if s.toolSlots != nil {
		if err := s.toolSlots.Acquire(ctx, 1); err != nil {
			return cancelledResult(err)
		}
		defer s.toolSlots.Release(1)
	}

	start := time.Now()
	res := s.tools.Call(ctx, req.Name, string(req.Arguments))
	if res.IsError {
		s.log.WarnContext(ctx, "tool.call.fail", slog.String("err", res.Content), slog.Duration("dur", time.Since(start)))
	} else {
		s.log.InfoContext(ctx, "tool.call.ok", slog.Duration("dur", time.Since(start)))
	}
	return res
}

func cancelledResult(err error) mcpservice.ExecutionResult {
	return mcpservice.ExecutionResult{Content: fmt.Sprintf("tool call cancelled: %v", err), IsError: true}
}

// capabilityError maps a resource or prompt failure to a JSON-RPC error.
// Lookups and argument problems are the caller's fault.
func (s *Server) capabilityError(ctx context.Context, id *jsonrpc.RequestID, err error) ([]byte, error) {
	var nf *mcpservice.NotFoundError
	if errors.As(err, &nf) || errors.Is(err, mcpservice.ErrInvalidArguments) {
		s.log.InfoContext(ctx, "capability.request.invalid", slog.String("err", err.Error()))
		return outbound.Error(id, jsonrpc.ErrorCodeInvalidParams, err.Error())
	}
	s.log.ErrorContext(ctx, "capability.execute.fail", slog.String("err", err.Error()))
	return outbound.Error(id, jsonrpc.ErrorCodeInternalError, err.Error())
}

func (s *Server) handleOther(ctx context.Context, sess *sessions.Session, id *jsonrpc.RequestID, req inbound.Other) ([]byte, error) {
	if s.fallback == nil {
		return outbound.Error(id, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	res, err := s.fallback(ctx, sess, req)
	if err != nil {
		if errors.Is(err, ErrMethodNotFound) {
			return outbound.Error(id, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
		}
		s.log.ErrorContext(ctx, "rpc.fallback.fail", slog.String("err", err.Error()))
		return outbound.Error(id, jsonrpc.ErrorCodeInternalError, err.Error())
	}
	if res == nil {
		return outbound.Empty(id)
	}
	return outbound.Result(id, res)
}

func (s *Server) persist(ctx context.Context, sess *sessions.Session) {
	if err := s.sessions.Persist(ctx, sess); err != nil {
		s.log.ErrorContext(ctx, "session.persist.fail", slog.String("err", err.Error()))
	}
}
