package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"node.town/voxroom/history"
	"node.town/voxroom/session"
)

type statusMsg session.Status

type entryMsg history.Entry

type interimMsg string

// Feed turns controller notifications into bubbletea messages. Sends block
// until the UI reads them or the feed is closed.
type Feed struct {
	msgs      chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

func NewFeed() *Feed {
	return &Feed{
		msgs: make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
}

func (f *Feed) StatusChanged(s session.Status) { f.send(statusMsg(s)) }

func (f *Feed) EntryAppended(e history.Entry) { f.send(entryMsg(e)) }

func (f *Feed) Interim(text string) { f.send(interimMsg(text)) }

func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *Feed) send(msg tea.Msg) {
	select {
	case f.msgs <- msg:
	case <-f.done:
	}
}

// wait returns the next notification, or nil once the feed is closed.
func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-f.msgs:
			return msg
		case <-f.done:
			return nil
		}
	}
}
