package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
)

// Session is one client session. It is safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time

	// ctx is cancelled when the session closes; executions derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	bufferSize int
	overflow   OverflowPolicy
	// onClose is invoked once, after the session reached StageClosed.
	onClose func(*Session)

	mu              sync.Mutex
	stage           Stage
	initResponded   bool
	clientReady     bool
	protocolVersion string
	client          mcp.ImplementationInfo
	stream          *Stream
	subscriptions   map[string]struct{}
}

func newSession(id string, bufferSize int, overflow OverflowPolicy, onClose func(*Session)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:            id,
		createdAt:     time.Now().UTC(),
		ctx:           ctx,
		cancel:        cancel,
		bufferSize:    bufferSize,
		overflow:      overflow,
		onClose:       onClose,
		stage:         StageCreated,
		subscriptions: make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

func (s *Session) ClientInfo() mcp.ImplementationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Accept reports whether method may be processed in the current stage. With
// strict set, a session that is not yet initialized only accepts the
// handshake methods and ping.
func (s *Session) Accept(method string, strict bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.stage {
	case StageClosed:
		return ErrSessionClosed
	case StageCreated:
		if strict && !allowedBeforeInit(method) {
			return ErrNotInitialized
		}
	}
	return nil
}

// InitializeResponded records that the initialize response was delivered
// with the negotiated protocol version.
func (s *Session) InitializeResponded(protocolVersion string, client mcp.ImplementationInfo) Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageClosed {
		return s.stage
	}
	s.initResponded = true
	s.protocolVersion = protocolVersion
	s.client = client
	s.promoteLocked()
	return s.stage
}

// ClientInitialized records receipt of notifications/initialized.
func (s *Session) ClientInitialized() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageClosed {
		return s.stage
	}
	s.clientReady = true
	s.promoteLocked()
	return s.stage
}

func (s *Session) promoteLocked() {
	if s.stage == StageCreated && s.initResponded && s.clientReady {
		s.stage = StageInitialized
	}
}

// Bind attaches sink as the session's output stream. Only one stream may be
// bound while the session is open.
func (s *Session) Bind(sink Sink) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageClosed {
		return nil, ErrSessionClosed
	}
	if s.stream != nil {
		return nil, ErrStreamBound
	}
	s.stream = newStream(sink, s.bufferSize, s.overflow, func() { s.Close() })
	return s.stream, nil
}

// HasStream reports whether a stream is bound.
func (s *Session) HasStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Send queues frame on the bound stream.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	st, stage := s.stream, s.stage
	s.mu.Unlock()

	if stage == StageClosed {
		return ErrSessionClosed
	}
	if st == nil {
		return ErrNoStream
	}
	return st.Send(ctx, frame)
}

// Subscribe records interest in updates to uri.
func (s *Session) Subscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[uri] = struct{}{}
}

// Subscribed reports whether Subscribe was called for uri.
func (s *Session) Subscribed(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[uri]
	return ok
}

// Close moves the session to StageClosed, cancels its context and releases
// the stream. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.stage == StageClosed {
		s.mu.Unlock()
		return
	}
	s.stage = StageClosed
	st := s.stream
	s.mu.Unlock()

	s.cancel()
	if st != nil {
		st.Close()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}

// Metadata returns the durable view of the session.
func (s *Session) Metadata() *Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Metadata{
		SessionID:       s.id,
		Stage:           s.stage,
		ProtocolVersion: s.protocolVersion,
		ClientName:      s.client.Name,
		ClientVersion:   s.client.Version,
		CreatedAt:       s.createdAt,
	}
}
