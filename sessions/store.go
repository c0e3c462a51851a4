package sessions

import (
	"context"
	"time"
)

// Metadata is the durable record of a session.
type Metadata struct {
	SessionID       string    `json:"session_id"`
	Stage           Stage     `json:"stage"`
	ProtocolVersion string    `json:"protocol_version,omitempty"`
	ClientName      string    `json:"client_name,omitempty"`
	ClientVersion   string    `json:"client_version,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists session metadata with a sliding TTL. Get and Touch return
// ErrSessionNotFound for unknown or expired sessions.
type Store interface {
	Put(ctx context.Context, meta *Metadata, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*Metadata, error)
	Touch(ctx context.Context, sessionID string, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}
