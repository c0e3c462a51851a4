// Package sessions owns per-session state: the lifecycle stage, the single
// bound output stream, resource subscriptions and the context that scopes
// every in-flight execution of the session.
//
// # Lifecycle
//
//	Created      -> initialize, ping and notifications/initialized only
//	Initialized  -> entered once the initialize response was sent AND
//	                notifications/initialized was received; all methods
//	Closed       -> terminal; in-flight work is cancelled, the stream is
//	                released and no further frames are written
//
// # Output
//
// A session has at most one Stream. Frames handed to Send are queued on a
// bounded channel and written by one goroutine that owns the transport Sink,
// so concurrent producers can never interleave bytes within a frame. When
// the queue is full the OverflowPolicy decides whether the producer waits or
// the session is closed.
//
// # Persistence
//
// Live sessions, with their streams and contexts, exist only in the process
// that created them. A Store keeps the durable metadata (stage, negotiated
// protocol version, client identity) with a sliding TTL; a session whose
// metadata expired is treated as not found. Implementations:
//
//	memorystore : in-memory, for tests and single-process servers
//	redisstore  : Redis-backed, shares metadata across instances
package sessions
