package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"node.town/voxroom/history"
	"node.town/voxroom/session"
)

type fakeController struct {
	mu     sync.Mutex
	calls  []string
	sent   []string
	status session.Status
	err    error
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Connect(ctx context.Context) (session.SessionState, error) {
	f.record("connect")
	return session.Connected, f.err
}

func (f *fakeController) Disconnect() { f.record("disconnect") }

func (f *fakeController) ToggleVoiceMode(ctx context.Context) (bool, error) {
	f.record("voice")
	return true, f.err
}

func (f *fakeController) ToggleMute(ctx context.Context) (session.MicState, error) {
	f.record("mute")
	return session.MicMuted, f.err
}

func (f *fakeController) ToggleOutputAudio() bool {
	f.record("audio")
	return false
}

func (f *fakeController) SendText(ctx context.Context, content string) error {
	f.record("send")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return f.err
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func readyModel(ctrl Controller) model {
	m := newModel(context.Background(), ctrl, NewFeed())
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(model)
}

func TestModelKeysRunCommands(t *testing.T) {
	tests := []struct {
		key  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c"), Alt: true}, "connect"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d"), Alt: true}, "disconnect"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("v"), Alt: true}, "voice"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m"), Alt: true}, "mute"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a"), Alt: true}, "audio"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			ctrl := &fakeController{}
			m := readyModel(ctrl)

			_, cmd := m.Update(tt.key)
			if cmd == nil {
				t.Fatalf("%s produced no command", tt.key)
			}
			msg := cmd()
			result, ok := msg.(resultMsg)
			if !ok || result.op != tt.want {
				t.Fatalf("command result = %#v", msg)
			}
			if calls := ctrl.callList(); len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", calls, tt.want)
			}
		})
	}
}

func TestModelSendsInput(t *testing.T) {
	ctrl := &fakeController{}
	m := readyModel(ctrl)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hi there")})
	m = next.(model)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)

	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	runBatch(cmd)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.sent) != 1 || ctrl.sent[0] != "hi there" {
		t.Errorf("sent = %q", ctrl.sent)
	}
}

// runBatch runs cmd and any commands batched inside it.
func runBatch(cmd tea.Cmd) {
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			if c != nil {
				runBatch(c)
			}
		}
	}
}

func TestModelShowsNotifications(t *testing.T) {
	m := readyModel(&fakeController{})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	steps := []tea.Msg{
		statusMsg(session.Status{Session: session.Connected, Voice: true, Mic: session.MicLive, Speech: true, OutputAudio: true}),
		interimMsg("what is"),
		entryMsg(history.Entry{ID: 1, Sender: history.SenderUser, Content: "what is up", Modality: history.ModalityVoice, CreatedAt: now}),
		entryMsg(history.Entry{ID: 2, Sender: history.SenderAssistant, Content: "not much", Modality: history.ModalityVoice, CreatedAt: now}),
	}
	for _, msg := range steps {
		next, _ := m.Update(msg)
		m = next.(model)
	}

	if len(m.entries) != 2 || m.interim != "" {
		t.Fatalf("entries = %d, interim = %q", len(m.entries), m.interim)
	}
	view := m.conversationView()
	for _, want := range []string{"what is up", "not much", "(voice)", "03:04:05"} {
		if !strings.Contains(view, want) {
			t.Errorf("conversation view missing %q", want)
		}
	}
	if !strings.Contains(m.headerView(), "connected") {
		t.Errorf("header does not show the session state")
	}

	next, _ := m.Update(resultMsg{op: "voice", err: session.ErrToggleInFlight})
	m = next.(model)
	if !strings.Contains(m.footerView(), "voice: voice mode toggle already in progress") {
		t.Errorf("footer = %q", m.footerView())
	}
}

func TestFeedStopsAfterClose(t *testing.T) {
	feed := NewFeed()
	feed.EntryAppended(history.Entry{ID: 1})
	if msg := feed.wait()(); msg == nil {
		t.Fatal("queued notification lost")
	}

	feed.Close()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			feed.Interim("ignored")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send blocked after Close")
	}
}

func TestRunPlain(t *testing.T) {
	ctrl := &fakeController{err: nil}
	in := strings.NewReader("/connect\nhello\n\n/voice\n/bogus\n/quit\nnever sent\n")
	var out bytes.Buffer

	if err := RunPlain(context.Background(), ctrl, in, &out); err != nil {
		t.Fatalf("RunPlain: %v", err)
	}

	want := []string{"connect", "send", "voice"}
	if calls := ctrl.callList(); strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if !strings.Contains(out.String(), "unknown command /bogus") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunPlainReportsErrors(t *testing.T) {
	ctrl := &fakeController{err: errors.New("no session")}
	var out bytes.Buffer

	RunPlain(context.Background(), ctrl, strings.NewReader("/mute\n"), &out)
	if !strings.Contains(out.String(), "!! no session") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrinterAndTranscript(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []history.Entry{
		{ID: 1, Sender: history.SenderSystem, Content: "Connected to voice assistant", Modality: history.ModalityText, CreatedAt: now},
		{ID: 2, Sender: history.SenderUser, Content: "testing", Modality: history.ModalityVoice, CreatedAt: now},
	}

	var printed bytes.Buffer
	p := NewPrinter(&printed)
	for _, e := range entries {
		p.EntryAppended(e)
	}
	if !strings.Contains(printed.String(), "[03:04:05] You (voice): testing") {
		t.Errorf("printed = %q", printed.String())
	}

	var table bytes.Buffer
	WriteTranscript(&table, entries)
	for _, want := range []string{"SENDER", "Connected to voice assistant", "testing", "voice"} {
		if !strings.Contains(table.String(), want) {
			t.Errorf("transcript missing %q:\n%s", want, table.String())
		}
	}
}
