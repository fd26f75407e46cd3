// Package events declares the telemetry event types published on the
// eventbus during a request's lifetime.
package events

import "time"

// RequestStart is published when the pipeline accepts a request,
// before identity resolution.
type RequestStart struct {
	OperationName  string
	PersistedQuery bool
}

// RequestFinish is published after the terminal response hook has run.
type RequestFinish struct {
	OperationName          string
	OperationType          string
	PersistedQueryHit      bool
	PersistedQueryRegister bool
	StatusCode             int
	Errors                 []error
	Duration               time.Duration
}

// PhaseStart is published when a pipeline phase (parsing, validation,
// execution) begins.
type PhaseStart struct {
	Phase string
}

// PhaseFinish is published when a pipeline phase completes.
type PhaseFinish struct {
	Phase    string
	Err      error
	Duration time.Duration
}
