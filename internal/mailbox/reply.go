package mailbox

import (
	"context"
	"sync"
)

// ReplyChannel is a single-use, capacity-one handoff slot that carries exactly
// one reply back to a synchronous sender. At most one reply is ever deposited
// and at most one read ever occurs; reading before a reply exists blocks.
type ReplyChannel[R any] struct {
	once sync.Once
	ch   chan R
}

// NewReplyChannel returns an empty reply channel.
func NewReplyChannel[R any]() *ReplyChannel[R] {
	return &ReplyChannel[R]{ch: make(chan R, 1)}
}

// Reply deposits the reply and reports whether this call was the one that
// delivered it. A double reply is a programming error on the responder's
// side; rather than racing or panicking, later calls deposit nothing and
// report false.
func (c *ReplyChannel[R]) Reply(value R) bool {
	delivered := false
	c.once.Do(func() {
		c.ch <- value
		delivered = true
	})
	return delivered
}

// Read blocks until a reply is deposited or ctx is done, and returns the
// reply exactly once.
func (c *ReplyChannel[R]) Read(ctx context.Context) (R, error) {
	select {
	case value := <-c.ch:
		return value, nil
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
