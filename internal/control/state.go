package control

// State identifies the controller's operating state. The set is closed:
// exactly one state is current at any time.
type State int

const (
	// Idle means no exposure is in progress.
	Idle State = iota
	// Exposing means the device is accumulating an exposure.
	Exposing
	// Saving means a finished exposure is being flushed to storage.
	Saving
	// Aborting means an exposure is being cancelled and cleaned up.
	Aborting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Exposing:
		return "exposing"
	case Saving:
		return "saving"
	case Aborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// Event is an input to the state machine. Start, Stop and Abort arrive from
// external callers; the completion events are fired internally when a
// Saving or Aborting delay elapses.
type Event int

const (
	// Start requests a new exposure.
	Start Event = iota
	// Stop requests a normal end of the current exposure.
	Stop
	// Abort requests cancellation of the current exposure.
	Abort

	// saveFinished and abortFinished drive the autonomous returns to Idle.
	saveFinished
	abortFinished
)

func (e Event) String() string {
	switch e {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Abort:
		return "abort"
	case saveFinished:
		return "save_finished"
	case abortFinished:
		return "abort_finished"
	default:
		return "unknown"
	}
}

// transition is the pure state-transition function. The second result is
// false when the event does not apply in the given state, which the
// controller treats as a silent no-op: no transition, no notification.
// Whether silence is the right answer for caller bugs is an open question;
// the no-op behavior is pinned by tests either way.
func transition(state State, event Event) (State, bool) {
	switch {
	case state == Idle && event == Start:
		return Exposing, true
	case state == Exposing && event == Stop:
		return Saving, true
	case state == Exposing && event == Abort:
		return Aborting, true
	case state == Saving && event == saveFinished:
		return Idle, true
	case state == Aborting && event == abortFinished:
		return Idle, true
	default:
		return state, false
	}
}

// followUp returns the event a state's entry action fires on its own, if any.
// Saving and Aborting complete autonomously; every other state is stable.
func followUp(state State) (Event, bool) {
	switch state {
	case Saving:
		return saveFinished, true
	case Aborting:
		return abortFinished, true
	default:
		return 0, false
	}
}
