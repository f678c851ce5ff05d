package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"node.town/voxroom/history"
	"node.town/voxroom/session"
)

// Printer writes notifications as plain lines.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) StatusChanged(s session.Status) {
	p.printf("-- %s · %s\n", s.Session, statusFlags(s))
}

func (p *Printer) EntryAppended(e history.Entry) {
	label := senderLabel(e.Sender)
	if e.Modality == history.ModalityVoice {
		label += " (voice)"
	}
	p.printf("[%s] %s: %s\n", e.CreatedAt.Format("15:04:05"), label, e.Content)
}

func (p *Printer) Interim(text string) {
	p.printf("   … %s\n", text)
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// RunPlain reads commands and messages line by line until in ends, ctx is
// done or the user types /quit.
func RunPlain(ctx context.Context, ctrl Controller, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "commands: /connect /disconnect /voice /mute /audio /status /quit")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := runCommand(ctx, ctrl, strings.TrimSpace(line), out); quit {
				return nil
			}
		}
	}
}

func runCommand(ctx context.Context, ctrl Controller, line string, out io.Writer) bool {
	var err error
	switch line {
	case "":
	case "/quit", "/exit":
		return true
	case "/connect":
		_, err = ctrl.Connect(ctx)
	case "/disconnect":
		ctrl.Disconnect()
	case "/voice":
		_, err = ctrl.ToggleVoiceMode(ctx)
	case "/mute":
		_, err = ctrl.ToggleMute(ctx)
	case "/audio":
		ctrl.ToggleOutputAudio()
	case "/status":
		s := ctrl.Status()
		fmt.Fprintf(out, "-- %s · %s\n", s.Session, statusFlags(s))
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(out, "unknown command %s\n", line)
			return false
		}
		err = ctrl.SendText(ctx, line)
	}
	if err != nil {
		fmt.Fprintf(out, "!! %v\n", err)
	}
	return false
}
