package sessions

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when operating on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrStreamBound is returned when a second stream is bound to an open session.
	ErrStreamBound = errors.New("session already has a bound stream")
	// ErrNoStream is returned by Send when no stream is bound.
	ErrNoStream = errors.New("session has no bound stream")
	// ErrNotInitialized is returned for methods that require an initialized session.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrStreamFull is returned when a frame overflows the stream queue under
	// OverflowClose; the session is closed as a result.
	ErrStreamFull = errors.New("session stream queue is full")
)
