package mcpserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
	"github.com/ggoodman/mcp-sse-middleware/sessions"
	"github.com/joeshaw/envdecode"
)

// Config is the environment-driven server configuration.
type Config struct {
	ServerName      string `env:"MCP_SERVER_NAME,default=mcp-sse-middleware"`
	ServerVersion   string `env:"MCP_SERVER_VERSION,default=0.1.0"`
	Instructions    string `env:"MCP_INSTRUCTIONS"`
	ProtocolVersion string `env:"MCP_PROTOCOL_VERSION,default=2025-06-18"`

	// ConcurrentToolCalls allows one session to run several tools/call
	// requests at once. When false they run one at a time per session.
	ConcurrentToolCalls bool `env:"MCP_TOOL_CALLS_CONCURRENT,default=true"`
	// MaxInflightToolCalls bounds tool executions across all sessions.
	MaxInflightToolCalls int `env:"MCP_MAX_INFLIGHT_TOOL_CALLS,default=16"`

	StreamBuffer    int           `env:"MCP_STREAM_BUFFER,default=64"`
	StreamOverflow  string        `env:"MCP_STREAM_OVERFLOW,default=block"`
	SessionTTL      time.Duration `env:"MCP_SESSION_TTL,default=30m"`
	StrictLifecycle bool          `env:"MCP_STRICT_LIFECYCLE,default=true"`
	// SweepInterval is how often expired sessions are closed.
	SweepInterval time.Duration `env:"MCP_SESSION_SWEEP_INTERVAL,default=1m"`

	// RequestsPerSecond limits POSTs per session; 0 disables the limit.
	RequestsPerSecond float64 `env:"MCP_REQUESTS_PER_SECOND,default=0"`
	RequestBurst      int     `env:"MCP_REQUEST_BURST,default=20"`
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		ServerName:           "mcp-sse-middleware",
		ServerVersion:        "0.1.0",
		ProtocolVersion:      mcp.LatestProtocolVersion,
		ConcurrentToolCalls:  true,
		MaxInflightToolCalls: 16,
		StreamBuffer:         sessions.DefaultBufferSize,
		StreamOverflow:       sessions.OverflowBlock.String(),
		SessionTTL:           sessions.DefaultTTL,
		StrictLifecycle:      true,
		SweepInterval:        sessions.DefaultSweepInterval,
		RequestBurst:         20,
	}
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("decode server config: %w", err)
	}
	if _, err := sessions.ParseOverflowPolicy(cfg.StreamOverflow); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Options translates cfg into server options. The session manager is built
// on store and logs to log.
func (cfg Config) Options(store sessions.Store, log *slog.Logger) ([]Option, error) {
	overflow, err := sessions.ParseOverflowPolicy(cfg.StreamOverflow)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mgr := sessions.NewManager(store,
		sessions.WithTTL(cfg.SessionTTL),
		sessions.WithStreamBuffer(cfg.StreamBuffer),
		sessions.WithOverflowPolicy(overflow),
		sessions.WithSweepInterval(cfg.SweepInterval),
		sessions.WithLogger(log),
	)

	opts := []Option{
		WithServerInfo(mcp.ImplementationInfo{Name: cfg.ServerName, Version: cfg.ServerVersion}),
		WithInstructions(cfg.Instructions),
		WithProtocolVersion(cfg.ProtocolVersion),
		WithStrictLifecycle(cfg.StrictLifecycle),
		WithMaxInflightToolCalls(cfg.MaxInflightToolCalls),
		WithSessionManager(mgr),
		WithLogger(log),
	}
	if !cfg.ConcurrentToolCalls {
		opts = append(opts, WithSerialToolCalls())
	}
	return opts, nil
}
