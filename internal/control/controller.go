// Package control implements the exposure controller: a finite state machine
// over {Idle, Exposing, Saving, Aborting} driven as a single actor, so no two
// state transitions are ever in flight at once.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmitc/camctl/internal/actor"
	"github.com/bmitc/camctl/internal/device"
	"github.com/bmitc/camctl/internal/mailbox"
)

// Command is a request accepted by the controller's mailbox.
type Command int

const (
	// CmdStartExposure asks for a new exposure (valid in Idle).
	CmdStartExposure Command = iota
	// CmdStopExposure asks for a normal stop (valid in Exposing).
	CmdStopExposure
	// CmdAbortExposure asks for cancellation (valid in Exposing).
	CmdAbortExposure
	// CmdGetExposingTime asks for the elapsed exposure seconds. The value
	// is always pushed to the notifier; a synchronous send also gets it
	// back as the reply.
	CmdGetExposingTime
)

func (c Command) String() string {
	switch c {
	case CmdStartExposure:
		return "start_exposure"
	case CmdStopExposure:
		return "stop_exposure"
	case CmdAbortExposure:
		return "abort_exposure"
	case CmdGetExposingTime:
		return "get_exposing_time"
	default:
		return "unknown"
	}
}

// Camera is the slice of the camera worker the controller drives.
// *device.CameraWorker satisfies it.
type Camera interface {
	Send(msg device.Message)
	SendSync(ctx context.Context, msg device.Message) (device.Reply, error)
}

// Config holds the controller's timing knobs.
type Config struct {
	// SaveDelay models the image save/flush work performed in Saving
	// before the autonomous return to Idle.
	SaveDelay time.Duration
	// AbortDelay models the cleanup work performed in Aborting before the
	// autonomous return to Idle.
	AbortDelay time.Duration
}

// Controller is the top-level actor of the system. External callers enqueue
// commands into its mailbox; the single receive loop applies transitions
// strictly one at a time, with the old state's exit action fully complete
// (device I/O included) before the new state's entry action begins.
//
// Saving and Aborting complete autonomously: their entry actions wait out a
// configured delay and then continue to Idle. The driver loop applies these
// follow-up transitions iteratively rather than re-entering itself.
type Controller struct {
	*actor.Worker[Command, float64]

	camera   Camera
	notifier Notifier
	cfg      Config

	// state is owned by the controller's own goroutine; the mutex exists
	// only so State() can be read from outside (health endpoint, tests).
	mu    sync.RWMutex
	state State
}

// New returns a controller starting in Idle. The initial state's entry
// notification fires when the worker initializes.
func New(camera Camera, notifier Notifier, cfg Config) *Controller {
	c := &Controller{
		camera:   camera,
		notifier: notifier,
		cfg:      cfg,
		state:    Idle,
	}
	c.Worker = actor.New[Command, float64]("controller", c)
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// StartExposure requests a new exposure. Fire-and-forget: a caller that
// needs to observe the resulting state waits on notifications or polls State.
func (c *Controller) StartExposure() { c.Send(CmdStartExposure) }

// StopExposure requests a normal stop of the current exposure.
func (c *Controller) StopExposure() { c.Send(CmdStopExposure) }

// AbortExposure requests cancellation of the current exposure.
func (c *Controller) AbortExposure() { c.Send(CmdAbortExposure) }

// ExposingTime returns the elapsed exposure seconds: the device-reported
// value while Exposing, 0.0 in every other state.
func (c *Controller) ExposingTime(ctx context.Context) (float64, error) {
	return c.SendSync(ctx, CmdGetExposingTime)
}

// Initialize enters the initial Idle state.
func (c *Controller) Initialize(ctx context.Context) error {
	c.notifier.NotifyState(Idle)
	slog.Info("controller started", "state", Idle.String())
	return nil
}

// Shutdown has nothing to release; the camera worker owns the device
// connection and shuts down on its own schedule.
func (c *Controller) Shutdown(ctx context.Context) error {
	slog.Info("controller stopped", "state", c.State().String())
	return nil
}

// HandleMessage applies one external command.
func (c *Controller) HandleMessage(ctx context.Context, cmd Command) error {
	switch cmd {
	case CmdStartExposure:
		return c.apply(ctx, Start)
	case CmdStopExposure:
		return c.apply(ctx, Stop)
	case CmdAbortExposure:
		return c.apply(ctx, Abort)
	case CmdGetExposingTime:
		seconds, err := c.exposingTime(ctx)
		if err != nil {
			return err
		}
		c.notifier.NotifyExposingTime(seconds)
		return nil
	default:
		slog.Warn("controller discarding unknown command", "command", cmd)
		return nil
	}
}

// HandleSyncMessage applies one command and replies once it has fully taken
// effect, autonomous follow-up transitions included. The reply is deposited
// on error paths too, so a synchronous sender never hangs on a dying
// controller.
func (c *Controller) HandleSyncMessage(ctx context.Context, cmd Command, reply *mailbox.ReplyChannel[float64]) error {
	if cmd == CmdGetExposingTime {
		seconds, err := c.exposingTime(ctx)
		reply.Reply(seconds)
		if err != nil {
			return err
		}
		c.notifier.NotifyExposingTime(seconds)
		return nil
	}

	err := c.HandleMessage(ctx, cmd)
	reply.Reply(0)
	return err
}

// apply computes the transition for an event and drives it through. Events
// that do not apply in the current state are discarded silently. Autonomous
// transitions (Saving→Idle, Aborting→Idle) are applied by iterating here,
// timed continuations rather than recursive calls.
func (c *Controller) apply(ctx context.Context, event Event) error {
	next, ok := transition(c.State(), event)
	if !ok {
		slog.Debug("controller event not applicable",
			"state", c.State().String(),
			"event", event.String(),
		)
		return nil
	}

	for {
		current := c.State()

		// Strict sequencing: exit completes, then the state pointer
		// moves, then entry runs.
		if err := c.exitState(ctx, current); err != nil {
			return err
		}
		c.setState(next)
		slog.Info("controller state transition",
			"from", current.String(),
			"to", next.String(),
			"event", event.String(),
		)
		if err := c.enterState(ctx, next); err != nil {
			return err
		}

		followEvent, autonomous := followUp(next)
		if !autonomous {
			return nil
		}
		following, ok := transition(next, followEvent)
		if !ok {
			return nil
		}
		event = followEvent
		next = following
	}
}

// enterState runs a state's entry action. Entry of Exposing is not complete
// until the device acknowledges the start command.
func (c *Controller) enterState(ctx context.Context, state State) error {
	switch state {
	case Idle:
		c.notifier.NotifyState(Idle)
	case Exposing:
		c.notifier.NotifyState(Exposing)
		if err := c.awaitCamera(ctx, device.StartExposure); err != nil {
			return err
		}
	case Saving:
		c.notifier.NotifyState(Saving)
		if err := c.waitFor(ctx, c.cfg.SaveDelay); err != nil {
			return err
		}
	case Aborting:
		c.notifier.NotifyState(Aborting)
		if err := c.waitFor(ctx, c.cfg.AbortDelay); err != nil {
			return err
		}
	}
	return nil
}

// exitState runs a state's exit action. Only Exposing has one: the device is
// told to stop, awaited, before any new state is entered.
func (c *Controller) exitState(ctx context.Context, state State) error {
	if state == Exposing {
		return c.awaitCamera(ctx, device.StopExposure)
	}
	return nil
}

// awaitCamera sends a command to the camera worker and waits for the device
// acknowledgement. Any failure here means the device link is unusable, which
// is fatal for the controller; the owner decides what happens next.
func (c *Controller) awaitCamera(ctx context.Context, msg device.Message) error {
	r, err := c.camera.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("controller: %s: %w", msg, err)
	}
	if r.Err != nil {
		return fmt.Errorf("controller: %s: %w", msg, r.Err)
	}
	return nil
}

// exposingTime asks the camera for elapsed seconds while Exposing and is 0.0
// in every other state. A malformed device reply is this command's failure
// only: logged and reported as 0, with the controller still healthy. A
// transport failure is fatal.
func (c *Controller) exposingTime(ctx context.Context) (float64, error) {
	if c.State() != Exposing {
		return 0, nil
	}

	r, err := c.camera.SendSync(ctx, device.GetExposingTime)
	if err != nil {
		return 0, fmt.Errorf("controller: get_exposing_time: %w", err)
	}
	if r.Err != nil {
		if errors.Is(r.Err, device.ErrProtocol) {
			slog.Warn("controller got malformed exposing time", "error", r.Err)
			return 0, nil
		}
		return 0, fmt.Errorf("controller: get_exposing_time: %w", r.Err)
	}
	return r.Seconds, nil
}

// waitFor blocks for the given simulated-work delay, honoring cancellation.
func (c *Controller) waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
