package mcpservice

import (
	"sync"
)

// ChangeNotifier is a small in-process fan-out used by registries and
// watched resources to signal changes. Sends never block: a subscriber that
// has not drained its buffer misses the event.
type ChangeNotifier[T any] struct {
	mu          sync.RWMutex
	subscribers []chan T
	closed      bool
}

// subscriberBuffer bounds how many undelivered events each subscriber holds.
const subscriberBuffer = 16

// Notify delivers v to every subscriber.
func (cn *ChangeNotifier[T]) Notify(v T) {
	cn.mu.RLock()
	defer cn.mu.RUnlock()

	if cn.closed {
		return
	}

	for _, ch := range cn.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close closes all subscriber channels. Later subscribers receive a closed
// channel.
func (cn *ChangeNotifier[T]) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Subscriber returns a channel that receives every subsequent Notify value.
func (cn *ChangeNotifier[T]) Subscriber() <-chan T {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	ch := make(chan T, subscriberBuffer)
	if cn.closed {
		close(ch)
		return ch
	}
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}
