// Package sessionstoretest is a conformance suite for sessions.Store
// implementations.
package sessionstoretest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-middleware/sessions"
	"github.com/google/uuid"
)

// StoreFactory creates a new Store instance for testing.
type StoreFactory func(t *testing.T) sessions.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("PutThenGet", func(t *testing.T) { testPutThenGet(t, factory) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, factory) })
	t.Run("PutOverwrites", func(t *testing.T) { testPutOverwrites(t, factory) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, factory) })
	t.Run("TouchExtends", func(t *testing.T) { testTouchExtends(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
}

func newMeta() *sessions.Metadata {
	return &sessions.Metadata{
		SessionID:       uuid.NewString(),
		Stage:           sessions.StageCreated,
		ProtocolVersion: "2025-06-18",
		ClientName:      "client",
		ClientVersion:   "1.0",
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func testPutThenGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta()

	if err := s.Put(ctx, meta, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != meta.SessionID || got.Stage != meta.Stage || got.ProtocolVersion != meta.ProtocolVersion ||
		got.ClientName != meta.ClientName || !got.CreatedAt.Equal(meta.CreatedAt) {
		t.Fatalf("metadata mismatch: want %+v got %+v", meta, got)
	}
}

func testGetUnknown(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, uuid.NewString()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("Get: expected ErrSessionNotFound, got %v", err)
	}
	if err := s.Touch(ctx, uuid.NewString(), time.Minute); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("Touch: expected ErrSessionNotFound, got %v", err)
	}
}

func testPutOverwrites(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta()

	_ = s.Put(ctx, meta, time.Minute)
	meta.Stage = sessions.StageInitialized
	if err := s.Put(ctx, meta, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want, got := sessions.StageInitialized, got.Stage; want != got {
		t.Fatalf("stage: want %v got %v", want, got)
	}
}

func testExpiry(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta()

	if err := s.Put(ctx, meta, 50*time.Millisecond); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, err := s.Get(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func testTouchExtends(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta()

	if err := s.Put(ctx, meta, 100*time.Millisecond); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Touch(ctx, meta.SessionID, time.Minute); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, err := s.Get(ctx, meta.SessionID); err != nil {
		t.Fatalf("expected session to survive after Touch, got %v", err)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta()

	_ = s.Put(ctx, meta, time.Minute)
	if err := s.Delete(ctx, meta.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected deleted session, got %v", err)
	}
	if err := s.Delete(ctx, meta.SessionID); err != nil {
		t.Fatalf("Delete of missing session should succeed, got %v", err)
	}
}
