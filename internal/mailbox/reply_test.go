package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestReplyDeliveredOnce verifies only the first Reply deposits a value.
func TestReplyDeliveredOnce(t *testing.T) {
	rc := NewReplyChannel[string]()

	if !rc.Reply("first") {
		t.Fatal("First Reply reported not delivered")
	}
	if rc.Reply("second") {
		t.Error("Second Reply reported delivered")
	}

	got, err := rc.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != "first" {
		t.Errorf("Expected %q, got %q", "first", got)
	}
}

// TestReadBlocksUntilReply verifies Read suspends until a reply exists.
func TestReadBlocksUntilReply(t *testing.T) {
	rc := NewReplyChannel[int]()

	done := make(chan int, 1)
	go func() {
		v, err := rc.Read(context.Background())
		if err != nil {
			return
		}
		done <- v
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case v := <-done:
		t.Fatalf("Read returned %d before any reply", v)
	default:
	}

	rc.Reply(9)

	select {
	case v := <-done:
		if v != 9 {
			t.Errorf("Expected 9, got %d", v)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for reply")
	}
}

// TestReadTimesOutWithoutReply verifies an unanswered Read honors its
// context deadline.
func TestReadTimesOutWithoutReply(t *testing.T) {
	rc := NewReplyChannel[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := rc.Read(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
