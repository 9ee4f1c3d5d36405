package control

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bmitc/camctl/internal/device"
)

// fakeCamera records the commands the controller issues and answers
// exposing-time queries with a canned value.
type fakeCamera struct {
	mu           sync.Mutex
	commands     []device.Message
	exposingTime float64
	timeErr      error
}

func (f *fakeCamera) Send(msg device.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, msg)
}

func (f *fakeCamera) SendSync(ctx context.Context, msg device.Message) (device.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, msg)

	if msg == device.GetExposingTime {
		return device.Reply{Seconds: f.exposingTime, Err: f.timeErr}, nil
	}
	return device.Reply{}, nil
}

func (f *fakeCamera) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

func (f *fakeCamera) issued(msg device.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.commands {
		if m == msg {
			count++
		}
	}
	return count
}

// recordingNotifier captures the controller's announcements.
type recordingNotifier struct {
	mu     sync.Mutex
	states []State
	times  []float64
}

func (n *recordingNotifier) NotifyState(state State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
}

func (n *recordingNotifier) NotifyExposingTime(seconds float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.times = append(n.times, seconds)
}

func (n *recordingNotifier) stateSequence() []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]State(nil), n.states...)
}

func (n *recordingNotifier) timeValues() []float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]float64(nil), n.times...)
}

// startController runs a controller with short simulated delays and returns
// it together with its collaborators. The controller is stopped on cleanup.
func startController(t *testing.T) (*Controller, *fakeCamera, *recordingNotifier) {
	t.Helper()

	camera := &fakeCamera{}
	notifier := &recordingNotifier{}
	c := New(camera, notifier, Config{
		SaveDelay:  20 * time.Millisecond,
		AbortDelay: 20 * time.Millisecond,
	})

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !c.IsInitialized() {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for controller initialization")
		}
		time.Sleep(time.Millisecond)
	}

	t.Cleanup(func() {
		c.ScheduleShutdown()
		select {
		case <-runDone:
		case <-time.After(2 * time.Second):
			t.Error("Controller did not stop")
		}
	})

	return c, camera, notifier
}

// send issues a command synchronously so the test observes the transition,
// autonomous follow-ups included, before asserting.
func send(t *testing.T, c *Controller, cmd Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.SendSync(ctx, cmd); err != nil {
		t.Fatalf("Command %v failed: %v", cmd, err)
	}
}

// TestTransitionTable pins the pure state-transition function, including the
// silent-discard rows.
func TestTransitionTable(t *testing.T) {
	cases := []struct {
		state State
		event Event
		next  State
		ok    bool
	}{
		{Idle, Start, Exposing, true},
		{Idle, Stop, Idle, false},
		{Idle, Abort, Idle, false},
		{Exposing, Start, Exposing, false},
		{Exposing, Stop, Saving, true},
		{Exposing, Abort, Aborting, true},
		{Saving, Start, Saving, false},
		{Saving, Stop, Saving, false},
		{Saving, Abort, Saving, false},
		{Saving, saveFinished, Idle, true},
		{Aborting, Start, Aborting, false},
		{Aborting, Stop, Aborting, false},
		{Aborting, Abort, Aborting, false},
		{Aborting, abortFinished, Idle, true},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v_%v", tc.state, tc.event), func(t *testing.T) {
			next, ok := transition(tc.state, tc.event)
			if next != tc.next || ok != tc.ok {
				t.Errorf("transition(%v, %v) = (%v, %v), expected (%v, %v)",
					tc.state, tc.event, next, ok, tc.next, tc.ok)
			}
		})
	}
}

// TestStartExposure verifies Idle + start = Exposing with exactly one
// start_exposure issued to the device worker.
func TestStartExposure(t *testing.T) {
	c, camera, notifier := startController(t)

	send(t, c, CmdStartExposure)

	if got := c.State(); got != Exposing {
		t.Errorf("Expected Exposing, got %v", got)
	}
	if n := camera.issued(device.StartExposure); n != 1 {
		t.Errorf("Expected exactly 1 start_exposure, got %d", n)
	}

	states := notifier.stateSequence()
	want := []State{Idle, Exposing}
	if len(states) != len(want) {
		t.Fatalf("Expected notifications %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Notification %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

// TestStopExposureSavesThenIdles verifies Exposing + stop issues exactly one
// stop_exposure on the way out, passes through Saving, and returns to Idle on
// its own after the save delay with no further external call.
func TestStopExposureSavesThenIdles(t *testing.T) {
	c, camera, notifier := startController(t)

	send(t, c, CmdStartExposure)
	send(t, c, CmdStopExposure)

	// The synchronous send replies after the whole chain, so the
	// autonomous Saving→Idle transition has already happened.
	if got := c.State(); got != Idle {
		t.Errorf("Expected Idle after autonomous return, got %v", got)
	}
	if n := camera.issued(device.StopExposure); n != 1 {
		t.Errorf("Expected exactly 1 stop_exposure, got %d", n)
	}

	states := notifier.stateSequence()
	want := []State{Idle, Exposing, Saving, Idle}
	if len(states) != len(want) {
		t.Fatalf("Expected notifications %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Notification %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

// TestAbortExposureCleansUpThenIdles verifies Exposing + abort passes through
// Aborting, issues stop_exposure on exit, and autonomously returns to Idle.
func TestAbortExposureCleansUpThenIdles(t *testing.T) {
	c, camera, notifier := startController(t)

	send(t, c, CmdStartExposure)
	send(t, c, CmdAbortExposure)

	if got := c.State(); got != Idle {
		t.Errorf("Expected Idle after autonomous return, got %v", got)
	}
	if n := camera.issued(device.StopExposure); n != 1 {
		t.Errorf("Expected exactly 1 stop_exposure on abort, got %d", n)
	}

	states := notifier.stateSequence()
	want := []State{Idle, Exposing, Aborting, Idle}
	if len(states) != len(want) {
		t.Fatalf("Expected notifications %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Notification %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

// TestInvalidEventIsSilentNoOp pins the discard policy: a stop in Idle leaves
// the state alone, issues no device command, and emits no notification.
func TestInvalidEventIsSilentNoOp(t *testing.T) {
	c, camera, notifier := startController(t)

	send(t, c, CmdStopExposure)
	send(t, c, CmdAbortExposure)

	if got := c.State(); got != Idle {
		t.Errorf("Expected Idle, got %v", got)
	}
	if n := camera.commandCount(); n != 0 {
		t.Errorf("Expected no device commands, got %d", n)
	}

	states := notifier.stateSequence()
	if len(states) != 1 || states[0] != Idle {
		t.Errorf("Expected only the initial Idle notification, got %v", states)
	}
}

// TestShutdownDuringSaveCompletesTransition verifies a shutdown scheduled
// while the controller is waiting out the save delay does not cut the
// transition short: the autonomous return to Idle still happens and the
// controller stops cleanly afterwards.
func TestShutdownDuringSaveCompletesTransition(t *testing.T) {
	camera := &fakeCamera{}
	notifier := &recordingNotifier{}
	c := New(camera, notifier, Config{
		SaveDelay:  100 * time.Millisecond,
		AbortDelay: 20 * time.Millisecond,
	})

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !c.IsInitialized() {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for controller initialization")
		}
		time.Sleep(time.Millisecond)
	}

	send(t, c, CmdStartExposure)

	// Fire-and-forget stop, then catch the controller inside the save
	// delay and schedule shutdown there.
	c.StopExposure()
	deadline = time.Now().Add(2 * time.Second)
	for {
		states := notifier.stateSequence()
		if len(states) > 0 && states[len(states)-1] == Saving {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Controller never reached Saving")
		}
		time.Sleep(time.Millisecond)
	}
	c.ScheduleShutdown()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Controller did not stop")
	}

	if got := c.State(); got != Idle {
		t.Errorf("Expected autonomous return to Idle, got %v", got)
	}
	states := notifier.stateSequence()
	want := []State{Idle, Exposing, Saving, Idle}
	if len(states) != len(want) {
		t.Fatalf("Expected notifications %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Notification %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

// TestExposingTime verifies the query returns 0.0 outside Exposing and the
// device-reported value inside it, pushing each value to the notifier.
func TestExposingTime(t *testing.T) {
	c, camera, notifier := startController(t)
	camera.exposingTime = 1.5

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seconds, err := c.ExposingTime(ctx)
	if err != nil {
		t.Fatalf("ExposingTime failed: %v", err)
	}
	if seconds != 0 {
		t.Errorf("Expected 0.0 in Idle, got %v", seconds)
	}

	send(t, c, CmdStartExposure)

	seconds, err = c.ExposingTime(ctx)
	if err != nil {
		t.Fatalf("ExposingTime failed: %v", err)
	}
	if seconds != 1.5 {
		t.Errorf("Expected device-reported 1.5, got %v", seconds)
	}
	if n := camera.issued(device.GetExposingTime); n != 1 {
		t.Errorf("Expected exactly 1 get_exposing_time, got %d", n)
	}

	values := notifier.timeValues()
	if len(values) != 2 || values[0] != 0 || values[1] != 1.5 {
		t.Errorf("Expected time updates [0 1.5], got %v", values)
	}
}

// TestMalformedExposingTimeIsNotFatal verifies a protocol error on the query
// is absorbed as 0.0 and the controller keeps running.
func TestMalformedExposingTimeIsNotFatal(t *testing.T) {
	c, camera, _ := startController(t)
	camera.timeErr = fmt.Errorf("%w: garbage reply", device.ErrProtocol)

	send(t, c, CmdStartExposure)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	seconds, err := c.ExposingTime(ctx)
	if err != nil {
		t.Fatalf("ExposingTime failed: %v", err)
	}
	if seconds != 0 {
		t.Errorf("Expected 0.0 for malformed reply, got %v", seconds)
	}

	// Still alive and still Exposing.
	if got := c.State(); got != Exposing {
		t.Errorf("Expected Exposing, got %v", got)
	}
}
