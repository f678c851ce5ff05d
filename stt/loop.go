package stt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultRestartBackoff = 100 * time.Millisecond

type Handler interface {
	OnFinal(text string)
	OnInterim(text string)
	OnError(err error)
}

// Loop keeps a recognizer capturing for as long as it is wanted. When the
// engine ends capture by itself the loop starts it again after a short
// backoff, unless Stop was called in the meantime.
type Loop struct {
	rec     Recognizer
	handler Handler
	log     *log.Logger
	backoff time.Duration

	mu       sync.Mutex
	intended bool
	restart  *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

func NewLoop(
	rec Recognizer,
	handler Handler,
	logger *log.Logger,
	backoff time.Duration,
) *Loop {
	if backoff <= 0 {
		backoff = DefaultRestartBackoff
	}
	if logger == nil {
		logger = log.Default()
	}
	l := &Loop{
		rec:     rec,
		handler: handler,
		log:     logger,
		backoff: backoff,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) Start() error {
	l.mu.Lock()
	if l.intended {
		l.mu.Unlock()
		return nil
	}
	l.intended = true
	l.mu.Unlock()

	if err := l.rec.Start(); err != nil {
		l.mu.Lock()
		l.intended = false
		l.mu.Unlock()
		return fmt.Errorf("start recognizer: %w", err)
	}
	l.log.Info("listening")
	return nil
}

func (l *Loop) Stop() error {
	l.mu.Lock()
	wasRunning := l.intended
	l.intended = false
	l.cancelRestartLocked()
	l.mu.Unlock()

	if !wasRunning {
		return nil
	}
	l.log.Info("stopped")
	if err := l.rec.Stop(); err != nil {
		return fmt.Errorf("stop recognizer: %w", err)
	}
	return nil
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intended
}

// Close stops capture and ends the loop goroutine.
func (l *Loop) Close() error {
	err := l.Stop()
	l.closeOnce.Do(func() { close(l.done) })
	return err
}

func (l *Loop) run() {
	events := l.rec.Events()
	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			l.handle(ev)
		}
	}
}

func (l *Loop) handle(ev Event) {
	switch ev.Kind {
	case EventStart:
		l.log.Debug("capture", "event", ev.Kind)

	case EventEnd:
		l.mu.Lock()
		if l.intended && l.restart == nil {
			l.restart = time.AfterFunc(l.backoff, l.restartCapture)
		}
		l.mu.Unlock()

	case EventResult:
		if !l.Running() {
			return
		}
		var final, interim strings.Builder
		for _, seg := range ev.Segments {
			if seg.IsFinal {
				final.WriteString(seg.Text)
			} else {
				interim.WriteString(seg.Text)
			}
		}
		if text := strings.TrimSpace(final.String()); text != "" {
			l.log.Info("hear", "txt", text)
			l.handler.OnFinal(text)
		} else if text := strings.TrimSpace(interim.String()); text != "" {
			l.log.Debug("hear", "tmp", text)
			l.handler.OnInterim(text)
		}

	case EventError:
		l.mu.Lock()
		wasRunning := l.intended
		l.intended = false
		l.cancelRestartLocked()
		l.mu.Unlock()

		l.log.Error("recognizer failed", "error", ev.Err)
		if wasRunning {
			l.handler.OnError(ev.Err)
		}
	}
}

func (l *Loop) restartCapture() {
	l.mu.Lock()
	if !l.intended || l.restart == nil {
		l.mu.Unlock()
		return
	}
	l.restart = nil
	l.mu.Unlock()

	l.log.Debug("restarting capture")
	if err := l.rec.Start(); err != nil {
		l.mu.Lock()
		wasRunning := l.intended
		l.intended = false
		l.mu.Unlock()
		if wasRunning {
			l.handler.OnError(fmt.Errorf("restart recognizer: %w", err))
		}
		return
	}

	// Stop may have run while the engine was starting.
	if !l.Running() {
		_ = l.rec.Stop()
	}
}

func (l *Loop) cancelRestartLocked() {
	if l.restart != nil {
		l.restart.Stop()
		l.restart = nil
	}
}
