package control

import "log/slog"

// Notifier receives the controller's announcements: one event per state
// entered and a value-carrying event for exposing-time updates. The
// controller only ever calls the sink; it never reads anything back.
// The MQTT emitter and test recorders implement this.
type Notifier interface {
	NotifyState(state State)
	NotifyExposingTime(seconds float64)
}

// LogNotifier is a Notifier that just logs. Useful as the sink when no
// external observer is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyState(state State) {
	slog.Info("controller state entered", "state", state.String())
}

func (LogNotifier) NotifyExposingTime(seconds float64) {
	slog.Debug("exposing time update", "seconds", seconds)
}
