// Package tui provides the terminal user interface of vickyboard.
package tui

import "time"

// SessionChangedMsg signals that some part of the dashboard session changed.
// The model re-reads the view-models when it receives one.
type SessionChangedMsg struct{}

// ActionDoneMsg reports the outcome of a confirm or cancel request.
type ActionDoneMsg struct {
	Action string
	TaskID string
	Err    error
}

// UnlockDoneMsg reports the outcome of clearing a poisoned lock.
type UnlockDoneMsg struct {
	Name string
	Err  error
}

// tickMsg re-renders running durations.
type tickMsg time.Time
