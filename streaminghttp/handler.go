package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-sse-middleware/inbound"
	"github.com/ggoodman/mcp-sse-middleware/internal/logctx"
	"github.com/ggoodman/mcp-sse-middleware/mcp"
	"github.com/ggoodman/mcp-sse-middleware/mcpserver"
	"github.com/ggoodman/mcp-sse-middleware/sessions"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// DefaultMaxBodyBytes bounds the size of one POSTed message.
const DefaultMaxBodyBytes = 4 << 20

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a JSON-RPC
// message exchange is possible. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	logger       *slog.Logger
	rps          float64
	burst        int
	maxBodyBytes int64
}

// WithLogger sets the logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRateLimit limits POSTs per session to rps with the given burst.
// Requests over the limit are answered with 429. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *newConfig) {
		c.rps = rps
		c.burst = burst
	}
}

// WithMaxBodyBytes bounds the size of one POSTed message.
func WithMaxBodyBytes(n int64) Option {
	return func(c *newConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// StreamingHTTPHandler serves one MCP endpoint: POST carries client
// messages, GET opens the session's event stream and DELETE ends the
// session.
type StreamingHTTPHandler struct {
	mux          *http.ServeMux
	log          *slog.Logger
	srv          *mcpserver.Server
	maxBodyBytes int64

	limit    rate.Limit
	burst    int
	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

// WriteFrame writes one complete frame and flushes it.
func (l *lockedWriteFlusher) WriteFrame(frame []byte) error {
	if l.ctx != nil && l.ctx.Err() != nil {
		return l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return l.ctx.Err()
	}
	if _, err := l.Writer.Write(frame); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	l.Flusher.Flush()
	return nil
}

// New mounts srv at the path of publicEndpoint. It starts srv.Run in the
// background for the lifetime of ctx, so srv must not be run separately.
func New(ctx context.Context, publicEndpoint string, srv *mcpserver.Server, opts ...Option) (*StreamingHTTPHandler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}

	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	cfg := &newConfig{logger: slog.Default(), maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &StreamingHTTPHandler{
		log:          logctx.NewLogger(cfg.logger.Handler()),
		srv:          srv,
		maxBodyBytes: cfg.maxBodyBytes,
		limiters:     make(map[string]*rate.Limiter),
	}
	if cfg.rps > 0 {
		h.limit = rate.Limit(cfg.rps)
		h.burst = max(cfg.burst, 1)
	}

	go func() {
		if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Error("server.run.fail", slog.String("err", err.Error()))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", pathOnly(mcpURL)), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", pathOnly(mcpURL)), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", pathOnly(mcpURL)), h.handleDeleteMCP)
	h.mux = mux
	return h, nil
}

// pathOnly returns just the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func sessionContext(ctx context.Context, sess *sessions.Session) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		Stage:           sess.Stage().String(),
	})
}

// handleDeleteMCP terminates an existing session.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcp.SessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "delete.missing_session_id")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID})

	if err := h.srv.Sessions().Close(ctx, sessID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			h.log.InfoContext(ctx, "session.delete.miss")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// handlePostMCP handles the POST /mcp endpoint, which is used by the client to send
// MCP messages to the server and to establish a session.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}
	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "message too large")
		} else {
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
		}
		h.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		return
	}
	if len(body) > 0 && body[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	payload, decodeErr := h.srv.Decode(body)
	if payload != nil {
		ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: payload.Request.MethodName(), ID: payload.ID.String()})
	}

	sessID := r.Header.Get(mcp.SessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, wf, payload, decodeErr, start)
		return
	}

	sess, err := h.srv.Sessions().Get(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}
	ctx = sessionContext(ctx, sess)

	clientPV := r.Header.Get(mcp.ProtocolVersionHeader)
	if clientPV != "" && sess.ProtocolVersion() != "" && clientPV != sess.ProtocolVersion() {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
		return
	}
	if !h.allow(sess) {
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		h.log.WarnContext(ctx, "http.post.rate_limited")
		return
	}

	var frame []byte
	if decodeErr != nil {
		h.log.WarnContext(ctx, "rpc.decode.fail", slog.String("err", decodeErr.Error()))
		frame, err = h.srv.Reject(payload, decodeErr)
	} else {
		frame, err = h.srv.Handle(ctx, sess, payload)
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		h.log.ErrorContext(ctx, "rpc.response.encode.fail", slog.String("err", err.Error()))
		return
	}

	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcp.ProtocolVersionHeader, spv)
	}
	if frame == nil {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	// A bound stream owns all output of its session.
	switch err := sess.Send(ctx, frame); {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Bool("streamed", true), slog.Duration("dur", time.Since(start)))
		return
	case errors.Is(err, sessions.ErrNoStream):
	default:
		writeJSONError(w, http.StatusServiceUnavailable, "session stream unavailable")
		h.log.WarnContext(ctx, "sse.enqueue.fail", slog.String("err", err.Error()))
		return
	}

	if err := writeSSEResponse(w, wf, http.StatusOK, frame); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Bool("streamed", false), slog.Duration("dur", time.Since(start)))
}

// handleInitialize serves a POST without a session id, which must carry
// initialize. The session is only created once the message is known to be a
// well-formed initialize request.
func (h *StreamingHTTPHandler) handleInitialize(ctx context.Context, w http.ResponseWriter, wf *lockedWriteFlusher, payload *inbound.Payload, decodeErr error, start time.Time) {
	if decodeErr != nil {
		frame, err := h.srv.Reject(payload, decodeErr)
		if err != nil || frame == nil {
			writeJSONError(w, http.StatusBadRequest, decodeErr.Error())
		} else if err := writeSSEResponse(w, wf, http.StatusBadRequest, frame); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		}
		h.log.InfoContext(ctx, "session.initialize.invalid", slog.String("err", decodeErr.Error()))
		return
	}
	if _, ok := payload.Request.(inbound.Initialize); !ok {
		writeJSONError(w, http.StatusBadRequest, "expected initialize request")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}

	sess, err := h.srv.Sessions().Create(ctx)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}
	ctx = sessionContext(ctx, sess)

	frame, err := h.srv.Handle(ctx, sess, payload)
	if err != nil {
		_ = h.srv.Sessions().Close(ctx, sess.ID())
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}

	w.Header().Set(mcp.SessionIDHeader, sess.ID())
	if v := sess.ProtocolVersion(); v != "" {
		w.Header().Set(mcp.ProtocolVersionHeader, v)
	}
	if err := writeSSEResponse(w, wf, http.StatusOK, frame); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetMCP binds the response as the session's event stream and holds it
// open until the session closes or the client goes away. A client
// disconnect closes the session.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	sessID := r.Header.Get(mcp.SessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, err := h.srv.Sessions().Get(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}
	ctx = sessionContext(ctx, sess)

	if pv := r.Header.Get(mcp.ProtocolVersionHeader); pv != "" {
		if spv := sess.ProtocolVersion(); spv != "" && pv != spv {
			w.WriteHeader(http.StatusPreconditionFailed)
			h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
			return
		}
	}

	setSSEHeaders(w)
	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcp.ProtocolVersionHeader, spv)
	}

	// Holding the writer lock keeps the stream's writer goroutine off w until
	// the status line is committed.
	wf.mu.Lock()
	st, err := sess.Bind(wf)
	if err != nil {
		wf.mu.Unlock()
		w.Header().Del("Cache-Control")
		w.Header().Del("Connection")
		w.Header().Del("X-Accel-Buffering")
		switch {
		case errors.Is(err, sessions.ErrStreamBound):
			writeJSONError(w, http.StatusConflict, "session already has an event stream")
			h.log.WarnContext(ctx, "sse.stream.conflict")
		case errors.Is(err, sessions.ErrSessionClosed):
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
		default:
			writeJSONError(w, http.StatusInternalServerError, "failed to bind stream")
			h.log.ErrorContext(ctx, "sse.stream.bind.fail", slog.String("err", err.Error()))
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	f.Flush()
	wf.mu.Unlock()

	h.log.InfoContext(ctx, "sse.stream.start")

	select {
	case <-st.Done():
		if err := st.Err(); err != nil {
			h.log.WarnContext(ctx, "sse.stream.broken", slog.String("err", err.Error()))
		}
	case <-ctx.Done():
		h.log.InfoContext(ctx, "sse.stream.disconnect")
	}
	// Stream.Close waits for the writer, so w is never touched after we return.
	st.Close()
	sess.Close()

	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// allow applies the per-session rate limit.
func (h *StreamingHTTPHandler) allow(sess *sessions.Session) bool {
	if h.limit == 0 {
		return true
	}
	h.limitMu.Lock()
	lim, ok := h.limiters[sess.ID()]
	if !ok {
		lim = rate.NewLimiter(h.limit, h.burst)
		h.limiters[sess.ID()] = lim
		id := sess.ID()
		context.AfterFunc(sess.Context(), func() {
			h.limitMu.Lock()
			delete(h.limiters, id)
			h.limitMu.Unlock()
		})
	}
	h.limitMu.Unlock()
	return lim.Allow()
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEResponse answers a POST with a single-event stream.
func writeSSEResponse(w http.ResponseWriter, wf *lockedWriteFlusher, status int, frame []byte) error {
	setSSEHeaders(w)
	w.WriteHeader(status)
	return wf.WriteFrame(frame)
}
