package stt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var ErrCapabilityUnavailable = errors.New(
	"speech recognition is not supported on this host",
)

// Segment is a piece of recognized speech. Interim segments may still be
// revised by the engine; final ones will not.
type Segment struct {
	Text    string
	IsFinal bool
}

type EventKind int

const (
	EventStart EventKind = iota
	EventEnd
	EventResult
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventEnd:
		return "end"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind     EventKind
	Segments []Segment
	Err      error
}

// Recognizer is a speech-to-text engine. Engines end capture on their own
// after a pause or a session limit and report that with an EventEnd.
type Recognizer interface {
	Start() error
	Stop() error
	Events() <-chan Event
}

type Config struct {
	Kind  string
	Input string
}

// Open returns the recognizer configured for this host, or
// ErrCapabilityUnavailable when there is none.
func Open(cfg Config, logger *log.Logger) (Recognizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "none":
		return nil, ErrCapabilityUnavailable
	case "lines":
		if cfg.Input == "" || cfg.Input == "-" {
			return NewLineRecognizer(os.Stdin, logger), nil
		}
		f, err := os.Open(cfg.Input)
		if err != nil {
			return nil, fmt.Errorf(
				"%w: open speech input: %w",
				ErrCapabilityUnavailable,
				err,
			)
		}
		return NewLineRecognizer(f, logger), nil
	default:
		return nil, fmt.Errorf(
			"%w: unknown recognizer %q",
			ErrCapabilityUnavailable,
			cfg.Kind,
		)
	}
}
