// Package capture implements the per-conversation capture session: the
// state machine that buffers spoken content between a start and a stop
// trigger for later refinement into a chart.
package capture

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a capture session.
type State int

const (
	// StateIdle - no capture in progress; waiting for a start trigger.
	StateIdle State = iota
	// StateCapturing - start trigger seen; buffering until a stop trigger.
	StateCapturing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCapturing:
		return "CAPTURING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status summarizes what a single delta did to the session. It is the
// status reported back to the ingestion layer.
type Status int

const (
	// StatusIdle - nothing captured and no capture in progress.
	StatusIdle Status = iota
	// StatusStarted - a capture began with this delta.
	StatusStarted
	// StatusCapturing - a capture was already in progress and continues.
	StatusCapturing
	// StatusCompleted - at least one capture completed with this delta.
	StatusCompleted
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarted:
		return "started"
	case StatusCapturing:
		return "capturing"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Errors for invalid state transitions.
var (
	ErrNotCapturing     = errors.New("no capture in progress")
	ErrAlreadyCapturing = errors.New("capture already in progress")
)

// Drop reasons reported when an over-limit capture is discarded.
const (
	DropMaxDuration = "max_duration"
	DropMaxLines    = "max_lines"
)
