package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-sse-middleware/inbound"
	"github.com/ggoodman/mcp-sse-middleware/internal/logctx"
	"github.com/ggoodman/mcp-sse-middleware/mcp"
	"github.com/ggoodman/mcp-sse-middleware/mcpservice"
	"github.com/ggoodman/mcp-sse-middleware/outbound"
	"github.com/ggoodman/mcp-sse-middleware/sessions"
	"github.com/ggoodman/mcp-sse-middleware/sessions/memorystore"
	"golang.org/x/sync/semaphore"
)

// FallbackFunc handles methods the server does not model. The returned value
// becomes the JSON-RPC result. Returning ErrMethodNotFound yields a -32601
// error; any other error yields -32603 with the error text.
type FallbackFunc func(ctx context.Context, sess *sessions.Session, req inbound.Other) (any, error)

// Option configures a Server.
type Option func(*Server)

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets the human-readable instructions returned from
// initialize.
func WithInstructions(instr string) Option {
	return func(s *Server) { s.instructions = instr }
}

// WithProtocolVersion sets the protocol version the server answers with.
func WithProtocolVersion(version string) Option {
	return func(s *Server) {
		if version != "" {
			s.protocolVersion = version
		}
	}
}

// WithStrictLifecycle controls whether sessions that have not completed the
// initialize handshake are limited to initialize and ping. Defaults to true.
func WithStrictLifecycle(strict bool) Option {
	return func(s *Server) { s.strict = strict }
}

// WithPageSize sets the resources/list page size.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithParamPolicy overrides the parameter policy for method.
func WithParamPolicy(method mcp.Method, policy inbound.ParamPolicy) Option {
	return func(s *Server) {
		s.parserOpts = append(s.parserOpts, inbound.WithParamPolicy(method, policy))
	}
}

// WithFallback installs the handler for unrecognized methods.
func WithFallback(fn FallbackFunc) Option {
	return func(s *Server) { s.fallback = fn }
}

// WithSerialToolCalls makes tools/call requests of one session run one at a
// time. Different sessions are never serialized against each other.
func WithSerialToolCalls() Option {
	return func(s *Server) { s.serialTools = true }
}

// WithMaxInflightToolCalls bounds concurrent tool executions across all
// sessions. Non-positive values remove the bound.
func WithMaxInflightToolCalls(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.toolSlots = semaphore.NewWeighted(int64(n))
		} else {
			s.toolSlots = nil
		}
	}
}

func WithTools(r *mcpservice.ToolRegistry) Option {
	return func(s *Server) { s.tools = r }
}

func WithResources(r *mcpservice.ResourceRegistry) Option {
	return func(s *Server) { s.resources = r }
}

func WithPrompts(r *mcpservice.PromptRegistry) Option {
	return func(s *Server) { s.prompts = r }
}

// WithSessionManager sets the session manager. By default sessions are kept
// in an in-memory store.
func WithSessionManager(m *sessions.Manager) Option {
	return func(s *Server) { s.sessions = m }
}

// WithLogger sets the logger. Records are enriched with the session, rpc and
// capability data carried by the context.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = logctx.NewLogger(log.Handler())
		}
	}
}

// Server dispatches decoded requests. It is safe for concurrent use.
type Server struct {
	info            mcp.ImplementationInfo
	instructions    string
	protocolVersion string
	strict          bool
	pageSize        int
	fallback        FallbackFunc
	log             *slog.Logger

	parserOpts []inbound.Option
	parser     *inbound.Parser

	tools     *mcpservice.ToolRegistry
	resources *mcpservice.ResourceRegistry
	prompts   *mcpservice.PromptRegistry
	sessions  *sessions.Manager

	toolSlots   *semaphore.Weighted
	serialTools bool
	serialMu    sync.Mutex
	serial      map[string]*semaphore.Weighted

	// broadcastTimeout bounds how long a notification waits on one
	// session's stream.
	broadcastTimeout time.Duration
}

// New returns a Server with empty registries unless provided via options.
func New(opts ...Option) *Server {
	s := &Server{
		info:             mcp.ImplementationInfo{Name: "mcp-sse-middleware", Version: "0.1.0"},
		protocolVersion:  mcp.LatestProtocolVersion,
		strict:           true,
		pageSize:         mcpservice.DefaultPageSize,
		log:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		serial:           make(map[string]*semaphore.Weighted),
		broadcastTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = inbound.NewParser(s.parserOpts...)
	if s.tools == nil {
		s.tools = mcpservice.NewToolRegistry()
	}
	if s.resources == nil {
		s.resources = mcpservice.NewResourceRegistry()
	}
	if s.prompts == nil {
		s.prompts = mcpservice.NewPromptRegistry()
	}
	if s.sessions == nil {
		s.sessions = sessions.NewManager(memorystore.New(), sessions.WithLogger(s.log))
	}
	return s
}

func (s *Server) Tools() *mcpservice.ToolRegistry         { return s.tools }
func (s *Server) Resources() *mcpservice.ResourceRegistry { return s.resources }
func (s *Server) Prompts() *mcpservice.PromptRegistry     { return s.prompts }
func (s *Server) Sessions() *sessions.Manager             { return s.sessions }

// ProtocolVersion returns the protocol version the server answers with.
func (s *Server) ProtocolVersion() string { return s.protocolVersion }

// Run delivers list_changed notifications to every initialized session with a
// bound stream and resources/updated notifications to the sessions that
// subscribed to the changed URI. While it runs the session manager closes
// expired sessions. It returns when ctx is done or all registries were
// closed.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = s.sessions.Run(ctx) }()

	toolsCh := s.tools.Subscriber()
	resourcesCh := s.resources.Subscriber()
	promptsCh := s.prompts.Subscriber()
	updatedCh := s.resources.Updated()

	for toolsCh != nil || resourcesCh != nil || promptsCh != nil || updatedCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-toolsCh:
			if !ok {
				toolsCh = nil
				continue
			}
			s.broadcastListChanged(ctx, mcp.ToolsListChangedNotificationMethod)
		case _, ok := <-resourcesCh:
			if !ok {
				resourcesCh = nil
				continue
			}
			s.broadcastListChanged(ctx, mcp.ResourcesListChangedNotificationMethod)
		case _, ok := <-promptsCh:
			if !ok {
				promptsCh = nil
				continue
			}
			s.broadcastListChanged(ctx, mcp.PromptsListChangedNotificationMethod)
		case uri, ok := <-updatedCh:
			if !ok {
				updatedCh = nil
				continue
			}
			s.broadcastUpdated(ctx, uri)
		}
	}
	return nil
}

func (s *Server) broadcastListChanged(ctx context.Context, method mcp.Method) {
	frame, err := outbound.Notification(method, nil)
	if err != nil {
		s.log.ErrorContext(ctx, "notify.encode.fail", slog.String("method", string(method)), slog.String("err", err.Error()))
		return
	}
	for _, sess := range s.sessions.Sessions() {
		if sess.Stage() != sessions.StageInitialized || !sess.HasStream() {
			continue
		}
		go s.deliver(sess, method, frame)
	}
}

func (s *Server) broadcastUpdated(ctx context.Context, uri string) {
	method := mcp.ResourcesUpdatedNotificationMethod
	frame, err := outbound.Notification(method, mcp.ResourceUpdatedNotification{URI: uri})
	if err != nil {
		s.log.ErrorContext(ctx, "notify.encode.fail", slog.String("method", string(method)), slog.String("err", err.Error()))
		return
	}
	for _, sess := range s.sessions.Sessions() {
		if !sess.Subscribed(uri) || !sess.HasStream() {
			continue
		}
		go s.deliver(sess, method, frame)
	}
}

func (s *Server) deliver(sess *sessions.Session, method mcp.Method, frame []byte) {
	ctx, cancel := context.WithTimeout(sess.Context(), s.broadcastTimeout)
	defer cancel()
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), ProtocolVersion: sess.ProtocolVersion(), Stage: sess.Stage().String()})
	if err := sess.Send(ctx, frame); err != nil {
		s.log.DebugContext(ctx, "notify.deliver.fail", slog.String("method", string(method)), slog.String("err", err.Error()))
		return
	}
	s.log.DebugContext(ctx, "notify.deliver.ok", slog.String("method", string(method)))
}

// serialSlot returns the per-session semaphore used by WithSerialToolCalls.
func (s *Server) serialSlot(sess *sessions.Session) *semaphore.Weighted {
	s.serialMu.Lock()
	defer s.serialMu.Unlock()
	sem, ok := s.serial[sess.ID()]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.serial[sess.ID()] = sem
		id := sess.ID()
		context.AfterFunc(sess.Context(), func() {
			s.serialMu.Lock()
			delete(s.serial, id)
			s.serialMu.Unlock()
		})
	}
	return sem
}
