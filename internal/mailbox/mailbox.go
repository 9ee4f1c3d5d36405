// Package mailbox provides the ordered message queue that backs every actor
// in camctl, plus the single-use reply channel used for synchronous sends.
//
// A Mailbox is owned by exactly one consumer. Producers interact with it only
// through Send and SendSync; the owning goroutine drains it with Read. This
// single-consumer discipline is what gives workers single-writer semantics
// over their own state without locks.
package mailbox

import (
	"context"
	"log/slog"
	"sync"
)

// Envelope is one queued item. The variant is decided at send time: Reply is
// nil for fire-and-forget sends and non-nil for synchronous sends, in which
// case the consumer must eventually deposit exactly one reply into it.
type Envelope[M, R any] struct {
	Msg   M
	Reply *ReplyChannel[R]
}

// Mailbox is an unbounded FIFO queue of envelopes.
//
// Guarantees:
//   - Send never blocks.
//   - Items are delivered to the reader exactly once, in send order.
//   - Read blocks until an item is available or the context is done.
//
// Thread-safety: Send and SendSync are safe for concurrent callers. Read MUST
// be called from a single consumer goroutine only.
type Mailbox[M, R any] struct {
	name string

	mu    sync.Mutex
	items []Envelope[M, R]

	// ready carries a coalesced "queue is non-empty" wake-up signal.
	// Capacity 1: repeated sends while the consumer sleeps collapse into
	// one token, and the consumer re-checks the queue after every wake.
	ready chan struct{}
}

// New returns an empty mailbox. The name appears in debug logs only.
func New[M, R any](name string) *Mailbox[M, R] {
	return &Mailbox[M, R]{
		name:  name,
		ready: make(chan struct{}, 1),
	}
}

// Send enqueues a message immediately. It never blocks and gives no
// acknowledgement. If the consumer is blocked in Read, it is woken.
func (m *Mailbox[M, R]) Send(msg M) {
	m.enqueue(Envelope[M, R]{Msg: msg})
}

// SendSync enqueues a message paired with a fresh reply channel and blocks
// until the consumer deposits a reply or ctx is done. The mailbox imposes no
// timeout of its own: with no consumer draining the queue, SendSync waits for
// as long as ctx allows. A caller that times out simply abandons the channel;
// the consumer's eventual reply is deposited and never read, which is fine
// because replies are single-shot and discardable.
func (m *Mailbox[M, R]) SendSync(ctx context.Context, msg M) (R, error) {
	reply := NewReplyChannel[R]()
	m.enqueue(Envelope[M, R]{Msg: msg, Reply: reply})
	return reply.Read(ctx)
}

// Read blocks until an item is available, then removes and returns the oldest
// one. The only error it returns is ctx.Err() when the context ends first.
func (m *Mailbox[M, R]) Read(ctx context.Context) (Envelope[M, R], error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			env := m.items[0]
			m.items = m.items[1:]
			remaining := len(m.items)
			m.mu.Unlock()

			if remaining > 0 {
				// Keep the wake-up token alive for the next Read:
				// one signal may stand for several sends.
				m.signal()
			}

			slog.Debug("mailbox read", "mailbox", m.name, "pending", remaining)
			return env, nil
		}
		m.mu.Unlock()

		select {
		case <-m.ready:
		case <-ctx.Done():
			var zero Envelope[M, R]
			return zero, ctx.Err()
		}
	}
}

// Len reports the number of pending items.
func (m *Mailbox[M, R]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Mailbox[M, R]) enqueue(env Envelope[M, R]) {
	m.mu.Lock()
	m.items = append(m.items, env)
	pending := len(m.items)
	m.mu.Unlock()

	m.signal()

	slog.Debug("mailbox send", "mailbox", m.name, "pending", pending, "sync", env.Reply != nil)
}

func (m *Mailbox[M, R]) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}
