package outbound

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-sse-middleware/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-middleware/mcp"
	"github.com/ggoodman/mcp-sse-middleware/mcpservice"
)

// mustFrame returns a function accepting a compiler's results directly, as in
// mustFrame(t)(Ping(id)).
func mustFrame(t *testing.T) func([]byte, error) string {
	return func(b []byte, err error) string {
		t.Helper()
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		return string(b)
	}
}

// body strips the SSE framing after asserting it is present.
func body(t *testing.T, frame string) map[string]any {
	t.Helper()
	if !strings.HasPrefix(frame, "data: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("bad framing: %q", frame)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &m); err != nil {
		t.Fatalf("unmarshal frame body: %v", err)
	}
	return m
}

func TestPing(t *testing.T) {
	got := mustFrame(t)(Ping(jsonrpc.NewRequestID(7)))
	if want := "data: {\"jsonrpc\":\"2.0\",\"id\":7,\"result\":{}}\n\n"; want != got {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestMissingIDIsZero(t *testing.T) {
	got := mustFrame(t)(Ping(nil))
	if want := "data: {\"jsonrpc\":\"2.0\",\"id\":0,\"result\":{}}\n\n"; want != got {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestInitialize(t *testing.T) {
	id := jsonrpc.NewRequestID(1)
	p := InitParams{
		ProtocolVersion: "2025-06-18",
		ServerInfo:      mcp.ImplementationInfo{Name: "srv", Version: "1.0"},
		Instructions:    "be nice",
		HasResources:    true,
	}

	got := mustFrame(t)(Initialize(id, p))
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"protocolVersion\":\"2025-06-18\"," +
		"\"capabilities\":{\"resources\":{\"listChanged\":true}}," +
		"\"serverInfo\":{\"name\":\"srv\",\"version\":\"1.0\"},\"instructions\":\"be nice\"}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}

	p.HasTools, p.HasPrompts, p.HasResources = true, true, false
	m := body(t, mustFrame(t)(Initialize(id, p)))
	caps := m["result"].(map[string]any)["capabilities"].(map[string]any)
	if _, ok := caps["resources"]; ok {
		t.Fatalf("resources must be absent: %v", caps)
	}
	for _, k := range []string{"tools", "prompts"} {
		sub, ok := caps[k].(map[string]any)
		if !ok || sub["listChanged"] != true {
			t.Fatalf("%s: expected listChanged true, got %v", k, caps[k])
		}
	}
}

func TestToolsList(t *testing.T) {
	got := mustFrame(t)(ToolsList(jsonrpc.NewRequestID(2), []mcp.Tool{{Name: "echo", Description: "Echo"}}))
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":{\"tools\":[{\"name\":\"echo\",\"description\":\"Echo\"," +
		"\"inputSchema\":{\"type\":\"object\"},\"outputSchema\":{\"type\":\"object\"}}]}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}

	got = mustFrame(t)(ToolsList(jsonrpc.NewRequestID(3), nil))
	if want := "data: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":{\"tools\":[]}}\n\n"; want != got {
		t.Fatalf("empty: want %q got %q", want, got)
	}
}

func TestResourcesListOptionalFields(t *testing.T) {
	size := int64(12)
	resources := []mcp.Resource{
		{URI: "res://a", Name: "a", Description: "", MimeType: "text/plain"},
		{
			URI: "res://b", Name: "b", Description: "bee", MimeType: "image/png",
			Title: "Bee", Size: &size,
			Icons: []mcp.Icon{{Src: "https://x/b.png", MimeType: "image/png"}},
		},
	}

	got := mustFrame(t)(ResourcesList(jsonrpc.NewRequestID(4), resources, ""))
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":4,\"result\":{\"resources\":[" +
		"{\"uri\":\"res://a\",\"name\":\"a\",\"description\":\"\",\"mimeType\":\"text/plain\"}," +
		"{\"uri\":\"res://b\",\"name\":\"b\",\"description\":\"bee\",\"mimeType\":\"image/png\",\"title\":\"Bee\",\"size\":12," +
		"\"icons\":[{\"src\":\"https://x/b.png\",\"mimeType\":\"image/png\",\"sizes\":[]}]}]}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}
	if resources[1].Icons[0].Sizes != nil {
		t.Fatalf("compiler must not mutate caller's descriptors")
	}

	m := body(t, mustFrame(t)(ResourcesList(jsonrpc.NewRequestID(4), resources[:1], "50")))
	if want, got := "50", m["result"].(map[string]any)["nextCursor"]; want != got {
		t.Fatalf("nextCursor: want %v got %v", want, got)
	}

	zero := int64(0)
	m = body(t, mustFrame(t)(ResourcesList(jsonrpc.NewRequestID(4), []mcp.Resource{{URI: "res://z", Size: &zero, Icons: []mcp.Icon{}}}, "")))
	entry := m["result"].(map[string]any)["resources"].([]any)[0].(map[string]any)
	if _, ok := entry["icons"]; ok {
		t.Fatalf("empty icons must be omitted: %v", entry)
	}
	if want, got := float64(0), entry["size"]; want != got {
		t.Fatalf("explicit zero size should be present: %v", entry)
	}
}

func TestToolResult(t *testing.T) {
	id := jsonrpc.NewRequestID(5)

	got := mustFrame(t)(ToolResult(id, mcpservice.ExecutionResult{
		Content:           `{"sum":3}`,
		StructuredContent: json.RawMessage(`{"sum":3}`),
	}))
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":5,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"{\\\"sum\\\":3}\"}]," +
		"\"structuredContent\":{\"sum\":3},\"isError\":false}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}

	got = mustFrame(t)(ToolResult(id, mcpservice.ExecutionResult{Content: "tool with name x is not found", IsError: true}))
	want = "data: {\"jsonrpc\":\"2.0\",\"id\":5,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"tool with name x is not found\"}],\"isError\":true}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}

	// Errors never carry structured content, even when supplied.
	m := body(t, mustFrame(t)(ToolResult(id, mcpservice.ExecutionResult{Content: "x", IsError: true, StructuredContent: json.RawMessage(`{}`)})))
	if _, ok := m["result"].(map[string]any)["structuredContent"]; ok {
		t.Fatalf("structuredContent present on error")
	}
}

func TestGetPromptAndRead(t *testing.T) {
	got := mustFrame(t)(GetPrompt(jsonrpc.NewRequestID(6), &mcpservice.PromptResult{Description: "d", Message: "<hi>"}))
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":6,\"result\":{\"description\":\"d\",\"messages\":[{\"role\":\"user\",\"content\":{\"type\":\"text\",\"text\":\"<hi>\"}}]}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}

	got = mustFrame(t)(GetPrompt(jsonrpc.NewRequestID(7), nil))
	want = "data: {\"jsonrpc\":\"2.0\",\"id\":7,\"result\":{\"description\":\"\",\"messages\":[{\"role\":\"user\",\"content\":{\"type\":\"text\",\"text\":\"\"}}]}}\n\n"
	if want != got {
		t.Fatalf("nil result: want %q got %q", want, got)
	}

	text := "hello"
	got = mustFrame(t)(ReadResource(jsonrpc.NewRequestID(8), &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{URI: "res://t", MimeType: "text/plain", Text: &text}},
	}))
	want = "data: {\"jsonrpc\":\"2.0\",\"id\":8,\"result\":{\"contents\":[{\"uri\":\"res://t\",\"mimeType\":\"text/plain\",\"text\":\"hello\"}]}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestPromptsList(t *testing.T) {
	got := mustFrame(t)(PromptsList(jsonrpc.NewRequestID(9), []mcp.Prompt{{Name: "p", Description: "d"}}))
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":9,\"result\":{\"prompts\":[{\"name\":\"p\",\"description\":\"d\",\"arguments\":[]}]}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestErrorAndNotification(t *testing.T) {
	got := mustFrame(t)(Error(jsonrpc.NewRequestID(10), jsonrpc.ErrorCodeMethodNotFound, "method not found: foo/bar"))
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":10,\"error\":{\"code\":-32601,\"message\":\"method not found: foo/bar\"}}\n\n"
	if want != got {
		t.Fatalf("want %q got %q", want, got)
	}

	got = mustFrame(t)(Notification(mcp.ToolsListChangedNotificationMethod, nil))
	if want := "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/tools/list_changed\"}\n\n"; want != got {
		t.Fatalf("want %q got %q", want, got)
	}

	got = mustFrame(t)(Notification(mcp.ResourcesUpdatedNotificationMethod, mcp.ResourceUpdatedNotification{URI: "res://a"}))
	if want := "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/resources/updated\",\"params\":{\"uri\":\"res://a\"}}\n\n"; want != got {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestInvalidRawJSONIsAnError(t *testing.T) {
	_, err := ToolsList(jsonrpc.NewRequestID(1), []mcp.Tool{{Name: "bad", InputSchema: json.RawMessage(`{`)}})
	if err == nil {
		t.Fatalf("expected encode error")
	}
}
