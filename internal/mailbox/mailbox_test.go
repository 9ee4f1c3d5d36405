package mailbox

import (
	"context"
	"errors"
	"testing"
	"testing/quick"
	"time"
)

// TestFIFOOrder verifies that N sends with no concurrent reader are read back
// in send order, unmodified.
func TestFIFOOrder(t *testing.T) {
	mb := New[int, struct{}]("fifo")

	const n = 100
	for i := 0; i < n; i++ {
		mb.Send(i)
	}

	ctx := context.Background()
	for i := 0; i < n; i++ {
		env, err := mb.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed at %d: %v", i, err)
		}
		if env.Msg != i {
			t.Fatalf("Expected %d, got %d", i, env.Msg)
		}
		if env.Reply != nil {
			t.Fatalf("Plain send carried a reply channel at %d", i)
		}
	}

	if mb.Len() != 0 {
		t.Errorf("Expected empty mailbox, %d items pending", mb.Len())
	}
}

// TestVolumeProperty sends and reads back arbitrary sequences via
// testing/quick, plus the fixed 1000-message case: identical sequence out,
// no drops, no reordering.
func TestVolumeProperty(t *testing.T) {
	roundTrip := func(values []int64) bool {
		mb := New[int64, struct{}]("volume")
		for _, v := range values {
			mb.Send(v)
		}
		ctx := context.Background()
		for _, want := range values {
			env, err := mb.Read(ctx)
			if err != nil || env.Msg != want {
				return false
			}
		}
		return mb.Len() == 0
	}

	if err := quick.Check(roundTrip, nil); err != nil {
		t.Errorf("Volume property failed: %v", err)
	}

	// Fixed case: 1000 distinct values.
	values := make([]int64, 1000)
	for i := range values {
		values[i] = int64(i * 7)
	}
	if !roundTrip(values) {
		t.Error("1000-message round trip lost or reordered items")
	}
}

// TestSendSyncRoundTrip verifies SendSync returns exactly the value the
// consumer deposits into the delivered reply channel.
func TestSendSyncRoundTrip(t *testing.T) {
	mb := New[string, int]("roundtrip")

	go func() {
		env, err := mb.Read(context.Background())
		if err != nil {
			return
		}
		if env.Reply == nil {
			t.Error("Synchronous send arrived without a reply channel")
			return
		}
		if env.Msg != "question" {
			t.Errorf("Expected %q, got %q", "question", env.Msg)
		}
		env.Reply.Reply(42)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := mb.SendSync(ctx, "question")
	if err != nil {
		t.Fatalf("SendSync failed: %v", err)
	}
	if reply != 42 {
		t.Errorf("Expected reply 42, got %d", reply)
	}
}

// TestSendSyncBlocksWithoutReader verifies SendSync does not complete within
// a bounded wait window when nothing drains the mailbox.
func TestSendSyncBlocksWithoutReader(t *testing.T) {
	mb := New[string, int]("blocking")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := mb.SendSync(ctx, "unanswered")
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("SendSync returned after %v, before the deadline", elapsed)
	}
}

// TestReadBlocksUntilSend verifies Read suspends on an empty mailbox and
// wakes on the next send.
func TestReadBlocksUntilSend(t *testing.T) {
	mb := New[int, struct{}]("wake")

	got := make(chan int, 1)
	go func() {
		env, err := mb.Read(context.Background())
		if err != nil {
			return
		}
		got <- env.Msg
	}()

	// Give the reader time to block.
	time.Sleep(50 * time.Millisecond)
	select {
	case v := <-got:
		t.Fatalf("Read returned %d from an empty mailbox", v)
	default:
	}

	mb.Send(7)

	select {
	case v := <-got:
		if v != 7 {
			t.Errorf("Expected 7, got %d", v)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for the woken reader")
	}
}

// TestReadHonorsCancellation verifies a blocked Read returns when its context
// ends.
func TestReadHonorsCancellation(t *testing.T) {
	mb := New[int, struct{}]("cancel")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := mb.Read(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Read did not observe cancellation")
	}
}

// TestInterleavedSendersPreserveOrder verifies mixed plain and synchronous
// sends from one producer drain in send order.
func TestInterleavedSendersPreserveOrder(t *testing.T) {
	mb := New[int, int]("interleaved")

	mb.Send(1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mb.SendSync(ctx, 2)
	}()

	// Wait for the synchronous send to be enqueued.
	deadline := time.Now().Add(1 * time.Second)
	for mb.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Synchronous send never enqueued")
		}
		time.Sleep(time.Millisecond)
	}
	mb.Send(3)

	ctx := context.Background()
	for i, want := range []int{1, 2, 3} {
		env, err := mb.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if env.Msg != want {
			t.Errorf("Position %d: expected %d, got %d", i, want, env.Msg)
		}
		if env.Reply != nil {
			env.Reply.Reply(env.Msg)
		}
	}
}
