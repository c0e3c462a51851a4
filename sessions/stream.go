package sessions

import (
	"context"
	"sync"
)

// Sink is the transport's byte sink for one stream. WriteFrame is only ever
// called from the stream's writer goroutine.
type Sink interface {
	WriteFrame(frame []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame []byte) error

func (f SinkFunc) WriteFrame(frame []byte) error { return f(frame) }

// Stream serializes frames onto a Sink through a bounded queue.
type Stream struct {
	sink   Sink
	queue  chan []byte
	policy OverflowPolicy

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	// onBroken runs in its own goroutine when the sink fails or the queue
	// overflows under OverflowClose.
	onBroken func()

	mu  sync.Mutex
	err error
}

func newStream(sink Sink, size int, policy OverflowPolicy, onBroken func()) *Stream {
	if size <= 0 {
		size = 1
	}
	st := &Stream{
		sink:     sink,
		queue:    make(chan []byte, size),
		policy:   policy,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		onBroken: onBroken,
	}
	go st.run()
	return st
}

func (st *Stream) run() {
	defer close(st.done)
	for {
		select {
		case <-st.closing:
			return
		case frame := <-st.queue:
			select {
			case <-st.closing:
				return
			default:
			}
			if err := st.sink.WriteFrame(frame); err != nil {
				st.fail(err)
				return
			}
		}
	}
}

func (st *Stream) fail(err error) {
	st.mu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.mu.Unlock()
	if st.onBroken != nil {
		go st.onBroken()
	}
}

// Err returns the error that stopped the writer, if any.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Send queues frame for writing.
func (st *Stream) Send(ctx context.Context, frame []byte) error {
	select {
	case <-st.closing:
		return ErrSessionClosed
	case <-st.done:
		return ErrSessionClosed
	default:
	}

	if st.policy == OverflowClose {
		select {
		case st.queue <- frame:
			return nil
		default:
			st.fail(ErrStreamFull)
			return ErrStreamFull
		}
	}

	select {
	case st.queue <- frame:
		return nil
	case <-st.closing:
		return ErrSessionClosed
	case <-st.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the writer goroutine has exited. After Done the Sink
// is never touched again.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

// Close stops the writer, discarding queued frames, and waits for it to exit.
func (st *Stream) Close() {
	st.closeOnce.Do(func() { close(st.closing) })
	<-st.done
}
