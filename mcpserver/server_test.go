package mcpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-middleware/inbound"
	"github.com/ggoodman/mcp-sse-middleware/mcp"
	"github.com/ggoodman/mcp-sse-middleware/mcpserver"
	"github.com/ggoodman/mcp-sse-middleware/mcpservice"
	"github.com/ggoodman/mcp-sse-middleware/sessions"
)

func newServer(t *testing.T, opts ...mcpserver.Option) *mcpserver.Server {
	t.Helper()
	srv := mcpserver.New(opts...)
	t.Cleanup(srv.Sessions().Shutdown)
	return srv
}

func newSession(t *testing.T, srv *mcpserver.Server) *sessions.Session {
	t.Helper()
	sess, err := srv.Sessions().Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func send(t *testing.T, srv *mcpserver.Server, sess *sessions.Session, msg string) string {
	t.Helper()
	frame, err := srv.HandleMessage(context.Background(), sess, []byte(msg))
	if err != nil {
		t.Fatalf("HandleMessage(%s): %v", msg, err)
	}
	return string(frame)
}

func initialized(t *testing.T, srv *mcpserver.Server) *sessions.Session {
	t.Helper()
	sess := newSession(t, srv)
	send(t, srv, sess, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	if frame := send(t, srv, sess, `{"jsonrpc":"2.0","method":"notifications/initialized"}`); frame != "" {
		t.Fatalf("notification must not be answered, got %q", frame)
	}
	if want, got := sessions.StageInitialized, sess.Stage(); want != got {
		t.Fatalf("stage: want %v got %v", want, got)
	}
	return sess
}

func echoTool() *mcpservice.FuncTool {
	return mcpservice.NewFuncTool("echo", "Echo the arguments", nil, nil, func(ctx context.Context, input string) (string, error) {
		return input, nil
	})
}

func TestInitializeHandshake(t *testing.T) {
	srv := newServer(t, mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "srv", Version: "1.0.0"}))
	if err := srv.Resources().Add(mcpservice.NewTextResource("res://a", "a", "text/plain", "hello")); err != nil {
		t.Fatalf("add resource: %v", err)
	}
	sess := newSession(t, srv)

	got := send(t, srv, sess, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"c","version":"2"}}}`)
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"protocolVersion\":\"2025-06-18\",\"capabilities\":{\"resources\":{\"listChanged\":true}},\"serverInfo\":{\"name\":\"srv\",\"version\":\"1.0.0\"},\"instructions\":\"\"}}\n\n"
	if want != got {
		t.Fatalf("initialize frame:\nwant %q\ngot  %q", want, got)
	}

	// The response alone is not enough.
	if want, got := sessions.StageCreated, sess.Stage(); want != got {
		t.Fatalf("stage: want %v got %v", want, got)
	}
	if want, got := "c", sess.ClientInfo().Name; want != got {
		t.Fatalf("client name: want %q got %q", want, got)
	}

	send(t, srv, sess, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if want, got := sessions.StageInitialized, sess.Stage(); want != got {
		t.Fatalf("stage: want %v got %v", want, got)
	}

	t.Run("second initialize is rejected", func(t *testing.T) {
		got := send(t, srv, sess, `{"jsonrpc":"2.0","id":9,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`)
		if !strings.Contains(got, `"code":-32600`) {
			t.Fatalf("expected invalid request, got %q", got)
		}
	})
}

func TestLifecycleGating(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		srv := newServer(t)
		sess := newSession(t, srv)

		if want, got := "data: {\"jsonrpc\":\"2.0\",\"id\":2,\"error\":{\"code\":-32002,\"message\":\"server not initialized\"}}\n\n", send(t, srv, sess, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
		if want, got := "data: {\"jsonrpc\":\"2.0\",\"id\":7,\"result\":{}}\n\n", send(t, srv, sess, `{"jsonrpc":"2.0","method":"ping","id":7}`); want != got {
			t.Fatalf("ping: want %q got %q", want, got)
		}
	})

	t.Run("lenient", func(t *testing.T) {
		srv := newServer(t, mcpserver.WithStrictLifecycle(false))
		sess := newSession(t, srv)
		if want, got := "data: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":{\"tools\":[]}}\n\n", send(t, srv, sess, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("closed", func(t *testing.T) {
		srv := newServer(t)
		sess := newSession(t, srv)
		sess.Close()
		if got := send(t, srv, sess, `{"jsonrpc":"2.0","id":3,"method":"ping"}`); !strings.Contains(got, `"code":-32600`) {
			t.Fatalf("expected invalid request on closed session, got %q", got)
		}
	})
}

func TestDecodeFailures(t *testing.T) {
	srv := newServer(t)
	sess := initialized(t, srv)

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"malformed", `{"jsonrpc":`, `"id":0,"error":{"code":-32700`},
		{"missing method", `{"jsonrpc":"2.0","id":4}`, `"id":0,"error":{"code":-32600`},
		{"invalid id", `{"jsonrpc":"2.0","id":"abc","method":"ping"}`, `"id":0,"error":{"code":-32600`},
		{"strict params", `{"jsonrpc":"2.0","id":5,"method":"resources/read","params":{}}`, `"id":5,"error":{"code":-32602`},
		{"unknown method", `{"jsonrpc":"2.0","id":6,"method":"foo/bar","params":{"a":1}}`, `"id":6,"error":{"code":-32601`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := send(t, srv, sess, tt.msg)
			if !strings.Contains(got, tt.want) {
				t.Fatalf("want frame containing %q, got %q", tt.want, got)
			}
		})
	}

	if want, got := sessions.StageInitialized, sess.Stage(); want != got {
		t.Fatalf("bad input must not affect the session, stage %v", got)
	}
}

func TestToolCalls(t *testing.T) {
	srv := newServer(t)
	if err := srv.Tools().Add(echoTool()); err != nil {
		t.Fatalf("add tool: %v", err)
	}
	if err := srv.Tools().Add(mcpservice.NewFuncTool("fail", "Always fails", nil, nil, func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})); err != nil {
		t.Fatalf("add tool: %v", err)
	}
	sess := initialized(t, srv)

	t.Run("ok", func(t *testing.T) {
		want := "data: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"{\\\"message\\\":\\\"hi\\\"}\"}],\"structuredContent\":{\"message\":\"hi\"},\"isError\":false}}\n\n"
		got := send(t, srv, sess, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`)
		if want != got {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("execution failure", func(t *testing.T) {
		want := "data: {\"jsonrpc\":\"2.0\",\"id\":4,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"boom\"}],\"isError\":true}}\n\n"
		got := send(t, srv, sess, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"fail"}}`)
		if want != got {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("not found", func(t *testing.T) {
		got := send(t, srv, sess, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)
		if !strings.Contains(got, `"text":"tool with name nope is not found"`) || !strings.Contains(got, `"isError":true`) {
			t.Fatalf("unexpected frame %q", got)
		}
	})
}

func TestResourcesAndPrompts(t *testing.T) {
	srv := newServer(t, mcpserver.WithPageSize(1))
	for _, uri := range []string{"res://b", "res://a"} {
		if err := srv.Resources().Add(mcpservice.NewTextResource(uri, uri[6:], "text/plain", "body of "+uri)); err != nil {
			t.Fatalf("add resource: %v", err)
		}
	}
	greet := mcpservice.NewFuncPrompt("greet", "Greets someone",
		[]mcp.PromptArgument{{Name: "who", Description: "Who to greet", Required: true}},
		func(ctx context.Context, input string) (*mcpservice.PromptResult, error) {
			var args map[string]string
			if err := json.Unmarshal([]byte(input), &args); err != nil {
				return nil, err
			}
			return &mcpservice.PromptResult{Description: "greeting", Message: "hello " + args["who"]}, nil
		})
	if err := srv.Prompts().Add(greet); err != nil {
		t.Fatalf("add prompt: %v", err)
	}
	empty := mcpservice.NewFuncPrompt("empty", "Returns nothing", nil,
		func(ctx context.Context, input string) (*mcpservice.PromptResult, error) {
			return nil, nil
		})
	if err := srv.Prompts().Add(empty); err != nil {
		t.Fatalf("add prompt: %v", err)
	}
	sess := initialized(t, srv)

	t.Run("list pages", func(t *testing.T) {
		got := send(t, srv, sess, `{"jsonrpc":"2.0","id":2,"method":"resources/list"}`)
		if !strings.Contains(got, `"uri":"res://a"`) || !strings.Contains(got, `"nextCursor":"1"`) {
			t.Fatalf("unexpected first page %q", got)
		}
		got = send(t, srv, sess, `{"jsonrpc":"2.0","id":3,"method":"resources/list","params":{"cursor":"1"}}`)
		if !strings.Contains(got, `"uri":"res://b"`) || strings.Contains(got, "nextCursor") {
			t.Fatalf("unexpected last page %q", got)
		}
	})

	t.Run("read", func(t *testing.T) {
		want := "data: {\"jsonrpc\":\"2.0\",\"id\":4,\"result\":{\"contents\":[{\"uri\":\"res://a\",\"mimeType\":\"text/plain\",\"text\":\"body of res://a\"}]}}\n\n"
		if got := send(t, srv, sess, `{"jsonrpc":"2.0","id":4,"method":"resources/read","params":{"uri":"res://a"}}`); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("read unknown", func(t *testing.T) {
		want := "data: {\"jsonrpc\":\"2.0\",\"id\":5,\"error\":{\"code\":-32602,\"message\":\"resource with URI res://zzz is not found\"}}\n\n"
		if got := send(t, srv, sess, `{"jsonrpc":"2.0","id":5,"method":"resources/read","params":{"uri":"res://zzz"}}`); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("subscribe", func(t *testing.T) {
		if want, got := "data: {\"jsonrpc\":\"2.0\",\"id\":6,\"result\":{}}\n\n", send(t, srv, sess, `{"jsonrpc":"2.0","id":6,"method":"resources/subscribe","params":{"uri":"res://a"}}`); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
		if !sess.Subscribed("res://a") {
			t.Fatalf("expected subscription to be recorded")
		}
		if got := send(t, srv, sess, `{"jsonrpc":"2.0","id":7,"method":"resources/subscribe","params":{"uri":"res://zzz"}}`); !strings.Contains(got, `"code":-32602`) {
			t.Fatalf("expected invalid params, got %q", got)
		}
	})

	t.Run("get prompt", func(t *testing.T) {
		want := "data: {\"jsonrpc\":\"2.0\",\"id\":8,\"result\":{\"description\":\"greeting\",\"messages\":[{\"role\":\"user\",\"content\":{\"type\":\"text\",\"text\":\"hello world\"}}]}}\n\n"
		if got := send(t, srv, sess, `{"jsonrpc":"2.0","id":8,"method":"prompts/get","params":{"name":"greet","arguments":{"who":"world"}}}`); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("get prompt without result", func(t *testing.T) {
		want := "data: {\"jsonrpc\":\"2.0\",\"id\":10,\"error\":{\"code\":-32603,\"message\":\"prompt empty returned no result\"}}\n\n"
		if got := send(t, srv, sess, `{"jsonrpc":"2.0","id":10,"method":"prompts/get","params":{"name":"empty"}}`); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("get prompt missing argument", func(t *testing.T) {
		if got := send(t, srv, sess, `{"jsonrpc":"2.0","id":9,"method":"prompts/get","params":{"name":"greet"}}`); !strings.Contains(got, `"code":-32602`) {
			t.Fatalf("expected invalid params, got %q", got)
		}
	})
}

func TestFallback(t *testing.T) {
	var seen inbound.Other
	srv := newServer(t, mcpserver.WithFallback(func(ctx context.Context, sess *sessions.Session, req inbound.Other) (any, error) {
		if req.Method == "missing" {
			return nil, mcpserver.ErrMethodNotFound
		}
		seen = req
		return map[string]int{"n": 1}, nil
	}))
	sess := initialized(t, srv)

	if want, got := "data: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":{\"n\":1}}\n\n", send(t, srv, sess, `{"jsonrpc":"2.0","id":2,"method":"foo/bar","params":{"a":1}}`); want != got {
		t.Fatalf("want %q got %q", want, got)
	}
	if want, got := (inbound.Other{Method: "foo/bar", Data: `{"a":1}`}), seen; want != got {
		t.Fatalf("fallback request: want %+v got %+v", want, got)
	}
	if got := send(t, srv, sess, `{"jsonrpc":"2.0","id":3,"method":"missing"}`); !strings.Contains(got, `"code":-32601`) {
		t.Fatalf("expected method not found, got %q", got)
	}
}

func blockingTool(inflight, peak *int64, release <-chan struct{}) *mcpservice.FuncTool {
	return mcpservice.NewFuncTool("slow", "Blocks until released", nil, nil, func(ctx context.Context, input string) (string, error) {
		n := atomic.AddInt64(inflight, 1)
		defer atomic.AddInt64(inflight, -1)
		for {
			p := atomic.LoadInt64(peak)
			if n <= p || atomic.CompareAndSwapInt64(peak, p, n) {
				break
			}
		}
		select {
		case <-release:
			return `"done"`, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

func runConcurrentCalls(t *testing.T, srv *mcpserver.Server, sess *sessions.Session, n int, release chan struct{}) {
	t.Helper()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = srv.HandleMessage(context.Background(), sess, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow"}}`))
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
}

func TestToolConcurrencyPolicy(t *testing.T) {
	t.Run("concurrent", func(t *testing.T) {
		var inflight, peak int64
		release := make(chan struct{})
		srv := newServer(t)
		_ = srv.Tools().Add(blockingTool(&inflight, &peak, release))
		sess := initialized(t, srv)

		runConcurrentCalls(t, srv, sess, 3, release)
		if want, got := int64(3), atomic.LoadInt64(&peak); want != got {
			t.Fatalf("peak concurrency: want %d got %d", want, got)
		}
	})

	t.Run("serial", func(t *testing.T) {
		var inflight, peak int64
		release := make(chan struct{})
		srv := newServer(t, mcpserver.WithSerialToolCalls())
		_ = srv.Tools().Add(blockingTool(&inflight, &peak, release))
		sess := initialized(t, srv)

		runConcurrentCalls(t, srv, sess, 3, release)
		if want, got := int64(1), atomic.LoadInt64(&peak); want != got {
			t.Fatalf("peak concurrency: want %d got %d", want, got)
		}
	})

	t.Run("bounded", func(t *testing.T) {
		var inflight, peak int64
		release := make(chan struct{})
		srv := newServer(t, mcpserver.WithMaxInflightToolCalls(2))
		_ = srv.Tools().Add(blockingTool(&inflight, &peak, release))
		sess := initialized(t, srv)

		runConcurrentCalls(t, srv, sess, 4, release)
		if want, got := int64(2), atomic.LoadInt64(&peak); want != got {
			t.Fatalf("peak concurrency: want %d got %d", want, got)
		}
	})
}

func TestSessionCloseCancelsToolCall(t *testing.T) {
	var inflight, peak int64
	srv := newServer(t)
	_ = srv.Tools().Add(blockingTool(&inflight, &peak, make(chan struct{})))
	sess := initialized(t, srv)

	done := make(chan string, 1)
	go func() {
		frame, _ := srv.HandleMessage(context.Background(), sess, []byte(`{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"slow"}}`))
		done <- string(frame)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt64(&inflight) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("tool never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess.Close()

	select {
	case frame := <-done:
		if !strings.Contains(frame, `"isError":true`) || !strings.Contains(frame, "context canceled") {
			t.Fatalf("expected cancelled tool result, got %q", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("tool call was not cancelled")
	}
}

type collectSink struct {
	mu     sync.Mutex
	frames []string
}

func (c *collectSink) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *collectSink) has(frame string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		if f == frame {
			return true
		}
	}
	return false
}

// watchedResource reports an update whenever poke is called.
type watchedResource struct {
	*mcpservice.StaticResource
	updates chan struct{}
}

func (w *watchedResource) Updates() <-chan struct{} { return w.updates }

func (w *watchedResource) poke() {
	select {
	case w.updates <- struct{}{}:
	default:
	}
}

func TestRunBroadcasts(t *testing.T) {
	srv := newServer(t)
	watched := &watchedResource{
		StaticResource: mcpservice.NewTextResource("res://watched", "watched", "text/plain", "v1"),
		updates:        make(chan struct{}, 1),
	}
	if err := srv.Resources().Add(watched); err != nil {
		t.Fatalf("add resource: %v", err)
	}

	sess := initialized(t, srv)
	sink := &collectSink{}
	if _, err := sess.Bind(sink); err != nil {
		t.Fatalf("bind: %v", err)
	}
	send(t, srv, sess, `{"jsonrpc":"2.0","id":2,"method":"resources/subscribe","params":{"uri":"res://watched"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx) }()

	waitFor := func(frame string, trigger func()) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for !sink.has(frame) {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %q", frame)
			}
			trigger()
			time.Sleep(20 * time.Millisecond)
		}
	}

	waitFor("data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/tools/list_changed\"}\n\n", func() {
		_ = srv.Tools().Add(echoTool())
	})
	waitFor("data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/resources/updated\",\"params\":{\"uri\":\"res://watched\"}}\n\n", watched.poke)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MCP_SERVER_NAME", "from-env")
	t.Setenv("MCP_STREAM_OVERFLOW", "close")

	cfg, err := mcpserver.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if want, got := "from-env", cfg.ServerName; want != got {
		t.Fatalf("server name: want %q got %q", want, got)
	}
	if want, got := 16, cfg.MaxInflightToolCalls; want != got {
		t.Fatalf("max inflight: want %d got %d", want, got)
	}
	if want, got := 30*time.Minute, cfg.SessionTTL; want != got {
		t.Fatalf("ttl: want %v got %v", want, got)
	}
	if !cfg.StrictLifecycle || !cfg.ConcurrentToolCalls {
		t.Fatalf("expected boolean defaults to be true: %+v", cfg)
	}

	t.Setenv("MCP_STREAM_OVERFLOW", "drop")
	if _, err := mcpserver.LoadConfig(); err == nil {
		t.Fatalf("expected error for unknown overflow policy")
	}
}
