package session

import (
	"fmt"

	"node.town/voxroom/history"
)

type SessionState int

const (
	Idle SessionState = iota
	Connecting
	Connected
	Error
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type MicState int

const (
	MicMuted MicState = iota
	MicLive
)

func (m MicState) String() string {
	if m == MicLive {
		return "live"
	}
	return "muted"
}

// Status is a consistent snapshot of everything the controller owns
// besides the history.
type Status struct {
	Session SessionState
	Voice   bool
	Mic     MicState
	// MicHeld is set while the user has muted an active voice mode.
	MicHeld     bool
	OutputAudio bool
	// Speech reports whether this host has a speech recognizer at all.
	Speech bool
}

// Observer is told about every change in the order the controller made
// them. Callbacks run one at a time on a controller goroutine and must not
// call the controller's commands.
type Observer interface {
	StatusChanged(Status)
	EntryAppended(history.Entry)
	Interim(text string)
}
