package device

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bmitc/camctl/internal/actor"
	"github.com/bmitc/camctl/internal/mailbox"
)

// Message identifies a command accepted by the camera worker.
type Message int

const (
	// StartExposure begins an exposure on the device.
	StartExposure Message = iota
	// StopExposure ends the current exposure on the device.
	StopExposure
	// GetExposingTime queries elapsed exposure seconds. Only meaningful as
	// a synchronous send, since the whole point is the reply.
	GetExposingTime
)

func (m Message) String() string {
	switch m {
	case StartExposure:
		return "start_exposure"
	case StopExposure:
		return "stop_exposure"
	case GetExposingTime:
		return "get_exposing_time"
	default:
		return "unknown"
	}
}

// Reply is the outcome of a synchronous camera command. Err carries
// per-command failures (notably protocol errors) so the sender, not the
// worker, decides what to do with them.
type Reply struct {
	Seconds float64
	Err     error
}

// CameraWorker owns the camera connection and serializes all device I/O
// through its mailbox: each command is driven to completion before the next
// envelope is read, so at most one device command is ever in flight.
//
// Plain sends are fire-and-forget from the caller's perspective. Synchronous
// sends reply after the device acknowledges, which is how the controller
// awaits its entry and exit actions.
//
// A transport failure terminates the worker after guaranteed cleanup; it does
// not reconnect on its own. The owner decides whether to build a replacement.
type CameraWorker struct {
	*actor.Worker[Message, Reply]
	client *Client
}

// NewCameraWorker returns a worker for the camera at host:port. The
// connection opens when the worker's Run initializes it.
func NewCameraWorker(host string, port int) *CameraWorker {
	w := &CameraWorker{client: NewClient(host, port)}
	w.Worker = actor.New[Message, Reply]("camera", w)
	return w
}

// Initialize opens the device connection.
func (w *CameraWorker) Initialize(ctx context.Context) error {
	return w.client.Connect(ctx)
}

// Shutdown closes the device connection.
func (w *CameraWorker) Shutdown(ctx context.Context) error {
	return w.client.Close()
}

// HandleMessage issues fire-and-forget commands. The client call is driven to
// completion here, which is what keeps device commands from overlapping.
func (w *CameraWorker) HandleMessage(ctx context.Context, msg Message) error {
	switch msg {
	case StartExposure:
		return w.client.StartExposure()
	case StopExposure:
		return w.client.StopExposure()
	default:
		// GetExposingTime without a reply channel has nowhere to put
		// its answer; discard rather than waste a round trip.
		slog.Warn("camera worker discarding message with no reply channel", "message", msg)
		return nil
	}
}

// HandleSyncMessage issues a command and replies with its outcome. The reply
// is deposited before any fatal error propagates, so the sender is never left
// waiting on a dying worker.
func (w *CameraWorker) HandleSyncMessage(ctx context.Context, msg Message, reply *mailbox.ReplyChannel[Reply]) error {
	var r Reply
	switch msg {
	case StartExposure:
		r.Err = w.client.StartExposure()
	case StopExposure:
		r.Err = w.client.StopExposure()
	case GetExposingTime:
		r.Seconds, r.Err = w.client.ExposingTime()
	}
	reply.Reply(r)

	if r.Err != nil && !errors.Is(r.Err, ErrProtocol) {
		// Transport failure: the connection is gone. Terminal for this
		// worker; cleanup runs on the way out.
		return r.Err
	}
	if r.Err != nil {
		slog.Warn("camera command failed", "command", msg, "error", r.Err)
	}
	return nil
}
