package redisstore

import (
	"context"
	"testing"

	"github.com/ggoodman/mcp-sse-middleware/sessions"
	"github.com/ggoodman/mcp-sse-middleware/sessions/sessionstoretest"
)

func TestRedisStore(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis
	s, err := NewFromEnv(context.Background())
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
		return
	}
	_ = s.Close()

	sessionstoretest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		ss, err := NewFromEnv(context.Background())
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		t.Cleanup(func() { _ = ss.Close() })
		return ss
	})
}
