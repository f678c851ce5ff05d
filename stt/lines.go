package stt

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var errInputClosed = errors.New("speech input closed")

// LineRecognizer treats each line read from an input as one spoken
// utterance. Like a browser engine it ends capture after every utterance,
// so it relies on Loop to keep listening. Lines that arrive while capture
// is stopped are discarded.
type LineRecognizer struct {
	log     *log.Logger
	events  chan Event
	control chan bool

	done      chan struct{}
	closeOnce sync.Once
	input     io.Reader
}

func NewLineRecognizer(r io.Reader, logger *log.Logger) *LineRecognizer {
	if logger == nil {
		logger = log.Default()
	}
	lr := &LineRecognizer{
		log:     logger,
		events:  make(chan Event, 16),
		control: make(chan bool),
		done:    make(chan struct{}),
		input:   r,
	}

	lines := make(chan string)
	go scanLines(r, lines, lr.done)
	go lr.run(lines)
	return lr
}

func (lr *LineRecognizer) Start() error { return lr.send(true) }

func (lr *LineRecognizer) Stop() error { return lr.send(false) }

func (lr *LineRecognizer) Events() <-chan Event { return lr.events }

func (lr *LineRecognizer) Close() error {
	lr.closeOnce.Do(func() { close(lr.done) })
	if c, ok := lr.input.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (lr *LineRecognizer) send(start bool) error {
	select {
	case lr.control <- start:
		return nil
	case <-lr.done:
		return errInputClosed
	}
}

func (lr *LineRecognizer) run(lines <-chan string) {
	running := false
	eof := false

	for {
		select {
		case <-lr.done:
			return

		case start := <-lr.control:
			switch {
			case start && eof:
				lr.emit(Event{Kind: EventError, Err: errInputClosed})
			case start && !running:
				running = true
				lr.emit(Event{Kind: EventStart})
			case !start && running:
				running = false
				lr.emit(Event{Kind: EventEnd})
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				eof = true
				if running {
					running = false
					lr.emit(Event{Kind: EventError, Err: errInputClosed})
				}
				continue
			}
			line = strings.TrimSpace(line)
			if !running || line == "" {
				continue
			}

			words := strings.Fields(line)
			lr.log.Debug("utterance", "words", len(words))
			if len(words) > 1 {
				lr.emit(Event{Kind: EventResult, Segments: []Segment{{
					Text: strings.Join(words[:len(words)/2], " "),
				}}})
			}
			lr.emit(Event{Kind: EventResult, Segments: []Segment{{
				Text:    line,
				IsFinal: true,
			}}})

			// End of utterance.
			running = false
			lr.emit(Event{Kind: EventEnd})
		}
	}
}

func (lr *LineRecognizer) emit(ev Event) {
	select {
	case lr.events <- ev:
	case <-lr.done:
	}
}

func scanLines(r io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-done:
			return
		}
	}
}
