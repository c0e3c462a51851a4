package sessions

import (
	"fmt"
	"strings"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
)

// Stage is a session lifecycle stage.
type Stage int32

const (
	StageCreated Stage = iota
	StageInitialized
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "created"
	case StageInitialized:
		return "initialized"
	case StageClosed:
		return "closed"
	default:
		return fmt.Sprintf("stage(%d)", int32(s))
	}
}

// ParseStage is the inverse of Stage.String.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "created":
		return StageCreated, nil
	case "initialized":
		return StageInitialized, nil
	case "closed":
		return StageClosed, nil
	}
	return 0, fmt.Errorf("unknown session stage %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// allowedBeforeInit reports whether method may be processed while the
// session is still in StageCreated.
func allowedBeforeInit(method string) bool {
	switch mcp.Method(method) {
	case mcp.InitializeMethod, mcp.PingMethod, mcp.InitializedNotificationMethod:
		return true
	}
	// Other client notifications (e.g. cancellation) carry no response and
	// cannot leak data, so they are tolerated.
	return strings.HasPrefix(method, mcp.NotificationPrefix)
}

// OverflowPolicy selects what happens when a stream queue is full.
type OverflowPolicy int

const (
	// OverflowBlock makes the producer wait for space or cancellation.
	OverflowBlock OverflowPolicy = iota
	// OverflowClose closes the session.
	OverflowClose
)

func (p OverflowPolicy) String() string {
	if p == OverflowClose {
		return "close"
	}
	return "block"
}

// ParseOverflowPolicy accepts "block" or "close".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return OverflowBlock, nil
	case "close":
		return OverflowClose, nil
	}
	return 0, fmt.Errorf("unknown stream overflow policy %q", s)
}
