package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"node.town/voxroom/history"
	"node.town/voxroom/stt"
	"node.town/voxroom/token"
	"node.town/voxroom/transport"
)

const (
	DefaultReplyDelay = time.Second

	micTimeout = 5 * time.Second
)

const (
	MsgConnected         = "Connected to voice assistant"
	MsgDisconnected      = "Disconnected from voice assistant"
	MsgAgentJoined       = "AI Assistant joined the conversation"
	MsgVoiceOn           = "Voice mode activated - Start speaking"
	MsgVoiceOff          = "Voice mode deactivated"
	MsgVoiceFailed       = "Failed to start voice recognition"
	MsgSpeechUnavailable = "Speech recognition is not supported on this host"
	MsgOfflineReply      = "I received your message. Please connect to the voice service for real-time interaction."
)

// Player makes the agent's audio audible.
type Player interface {
	Attach(track *transport.RemoteTrack)
	SetMuted(muted bool)
	Close() error
}

type Deps struct {
	Issuer token.Issuer
	Rooms  transport.RoomFactory

	// Recognizer is nil when the host cannot recognize speech.
	Recognizer stt.Recognizer
	Player     Player
	Observer   Observer

	Log       *log.Logger
	RoomLog   *log.Logger
	SpeechLog *log.Logger

	ReplyDelay     time.Duration
	RestartBackoff time.Duration
	Now            func() time.Time
}

// attempt is one connect cycle. done is closed once it connected, failed
// or was superseded.
type attempt struct {
	gen  uint64
	done chan struct{}
	err  error
}

// Controller owns one conversation with the agent: the room session, voice
// mode, the microphone, playback and the history. Every change happens
// under mu; calls into the room and the recognizer happen outside it.
type Controller struct {
	issuer     token.Issuer
	rooms      transport.RoomFactory
	player     Player
	observer   Observer
	loop       *stt.Loop
	history    *history.Log
	log        *log.Logger
	roomLog    *log.Logger
	replyDelay time.Duration

	mu          sync.Mutex
	state       SessionState
	voice       bool
	mic         MicState
	micHeld     bool
	outputAudio bool
	toggling    bool
	closed      bool
	gen         uint64
	current     *attempt
	adapter     *transport.Adapter
	replies     map[*time.Timer]struct{}
	pending     []func(Observer)

	// notifyMu keeps observer callbacks in order.
	notifyMu sync.Mutex

	// loopMu and micMu serialize bringing the loop and the room's
	// microphone in line with the state under mu.
	loopMu     sync.Mutex
	micMu      sync.Mutex
	micAdapter *transport.Adapter
	micApplied bool
}

func New(deps Deps) *Controller {
	logger := deps.Log
	if logger == nil {
		logger = log.Default()
	}
	roomLog := deps.RoomLog
	if roomLog == nil {
		roomLog = logger
	}
	delay := deps.ReplyDelay
	if delay <= 0 {
		delay = DefaultReplyDelay
	}

	c := &Controller{
		issuer:      deps.Issuer,
		rooms:       deps.Rooms,
		player:      deps.Player,
		observer:    deps.Observer,
		history:     history.NewLog(deps.Now),
		log:         logger,
		roomLog:     roomLog,
		replyDelay:  delay,
		outputAudio: true,
		replies:     make(map[*time.Timer]struct{}),
	}
	if deps.Recognizer != nil {
		c.loop = stt.NewLoop(
			deps.Recognizer,
			speechIntake{c},
			deps.SpeechLog,
			deps.RestartBackoff,
		)
	}
	return c
}

func (c *Controller) History() *history.Log {
	return c.history
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Connect starts a session and waits until it is connected or has failed.
// While a session is connecting or connected it returns the current state
// without doing anything.
func (c *Controller) Connect(ctx context.Context) (SessionState, error) {
	a, started, err := c.beginConnect()
	if err != nil {
		return c.Status().Session, err
	}
	if !started {
		return c.Status().Session, nil
	}
	c.dial(ctx, a)
	return c.await(ctx, a)
}

// Disconnect ends the session from any state. It never fails; teardown
// problems end up in the history.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	adapter := c.teardownLocked()
	c.mu.Unlock()
	c.flush()
	c.release(adapter)
}

// endSession tears down the session of generation gen if it is still the
// current one.
func (c *Controller) endSession(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	adapter := c.teardownLocked()
	c.mu.Unlock()
	c.flush()
	c.release(adapter)
}

// ToggleVoiceMode turns voice mode on or off and reports the new setting.
// Turning it on connects first when needed.
func (c *Controller) ToggleVoiceMode(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if c.loop == nil {
		c.systemLocked(MsgSpeechUnavailable)
		c.mu.Unlock()
		c.flush()
		return false, ErrCapabilityUnavailable
	}
	if c.toggling {
		voice := c.voice
		c.mu.Unlock()
		return voice, ErrToggleInFlight
	}
	c.toggling = true
	connected := c.state == Connected
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.toggling = false
		c.mu.Unlock()
	}()

	if !connected {
		a, started, err := c.beginConnect()
		if err != nil {
			return false, err
		}
		if started {
			c.dial(ctx, a)
		}
		if _, err := c.await(ctx, a); err != nil {
			return false, err
		}
	}

	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: session ended", ErrConnection)
	}
	gen := c.gen
	c.voice = !c.voice
	c.micHeld = false
	on := c.voice
	if on {
		c.mic = MicLive
	} else {
		c.mic = MicMuted
	}
	c.statusChangedLocked()
	c.mu.Unlock()
	c.flush()

	if on {
		return c.voiceOn(ctx, gen)
	}
	return c.voiceOff(ctx, gen)
}

// voiceOn starts capture, then opens the room's microphone. Voice mode is
// turned back off when either step fails.
func (c *Controller) voiceOn(ctx context.Context, gen uint64) (bool, error) {
	if err := c.syncLoop(); err != nil {
		c.log.Error("failed to start voice recognition", "error", err)
		c.voiceFailed(gen)
		return false, fmt.Errorf("%w: %w", ErrSpeechProvider, err)
	}
	if err := c.syncMic(ctx); err != nil {
		c.voiceFailed(gen)
		if err := c.syncLoop(); err != nil {
			c.log.Error("failed to stop voice recognition", "error", err)
		}
		return false, err
	}

	c.mu.Lock()
	if c.gen == gen && c.voice {
		c.systemLocked(MsgVoiceOn)
	}
	c.mu.Unlock()
	c.flush()
	return true, nil
}

// voiceOff closes the room's microphone before capture stops. If the
// microphone stays open, so does voice mode.
func (c *Controller) voiceOff(ctx context.Context, gen uint64) (bool, error) {
	if err := c.syncMic(ctx); err != nil {
		c.mu.Lock()
		if c.gen == gen && !c.voice {
			c.voice = true
			c.mic = MicLive
			c.statusChangedLocked()
		}
		c.mu.Unlock()
		c.flush()
		return true, err
	}

	c.mu.Lock()
	if c.gen == gen && !c.voice {
		c.systemLocked(MsgVoiceOff)
	}
	c.mu.Unlock()
	c.flush()

	if err := c.syncLoop(); err != nil {
		c.log.Error("failed to stop voice recognition", "error", err)
	}
	return false, nil
}

func (c *Controller) voiceFailed(gen uint64) {
	c.mu.Lock()
	if c.gen == gen && c.voice {
		c.voice = false
		c.mic = MicMuted
		c.micHeld = false
		c.systemLocked(MsgVoiceFailed)
		c.statusChangedLocked()
	}
	c.mu.Unlock()
	c.flush()
}

// ToggleMute holds or releases the microphone while voice mode stays on.
// Speech heard while the microphone is held is not recorded.
func (c *Controller) ToggleMute(ctx context.Context) (MicState, error) {
	c.mu.Lock()
	if c.adapter == nil || c.state != Connected {
		mic := c.mic
		c.mu.Unlock()
		return mic, ErrNoSession
	}
	if !c.voice {
		mic := c.mic
		c.mu.Unlock()
		return mic, ErrVoiceInactive
	}
	gen := c.gen
	held := !c.micHeld
	c.micHeld = held
	if held {
		c.mic = MicMuted
	} else {
		c.mic = MicLive
	}
	mic := c.mic
	c.statusChangedLocked()
	c.mu.Unlock()
	c.flush()

	if err := c.syncMic(ctx); err != nil {
		c.mu.Lock()
		if c.gen == gen && c.voice && c.micHeld == held {
			c.micHeld = !held
			if c.micHeld {
				c.mic = MicMuted
			} else {
				c.mic = MicLive
			}
			c.statusChangedLocked()
		}
		mic = c.mic
		c.mu.Unlock()
		c.flush()
		return mic, err
	}
	return mic, nil
}

func (c *Controller) ToggleOutputAudio() bool {
	c.mu.Lock()
	c.outputAudio = !c.outputAudio
	on := c.outputAudio
	if c.player != nil {
		c.player.SetMuted(!on)
	}
	c.statusChangedLocked()
	c.mu.Unlock()
	c.flush()
	return on
}

// SendText publishes content to the room, or answers locally while there
// is no session.
func (c *Controller) SendText(ctx context.Context, content string) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Connected || c.adapter == nil {
		c.appendLocked(history.SenderUser, text, history.ModalityText)
		c.scheduleReplyLocked()
		c.mu.Unlock()
		c.flush()
		return nil
	}
	adapter := c.adapter
	gen := c.gen
	c.mu.Unlock()

	err := adapter.PublishData(ctx, []byte(text), transport.DataOptions{Reliable: true})

	c.mu.Lock()
	if err != nil {
		c.log.Error("failed to send message", "error", err)
		if c.gen == gen {
			c.systemLocked(fmt.Sprintf("Failed to send message: %v", err))
		}
		c.mu.Unlock()
		c.flush()
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	c.appendLocked(history.SenderUser, text, history.ModalityText)
	c.mu.Unlock()
	c.flush()
	return nil
}

// Close disconnects and releases everything the controller owns.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for t := range c.replies {
		t.Stop()
	}
	c.replies = nil
	adapter := c.teardownLocked()
	c.mu.Unlock()
	c.flush()
	c.release(adapter)

	var err error
	if c.loop != nil {
		if closeErr := c.loop.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.player != nil {
		if closeErr := c.player.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func (c *Controller) beginConnect() (*attempt, bool, error) {
	c.mu.Lock()
	defer c.flush()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, ErrClosed
	}
	if c.state == Connecting || c.state == Connected {
		return c.current, false, nil
	}

	c.gen++
	c.current = &attempt{gen: c.gen, done: make(chan struct{})}
	c.state = Connecting
	c.statusChangedLocked()
	return c.current, true, nil
}

func (c *Controller) dial(ctx context.Context, a *attempt) {
	cred, err := c.issuer.Issue(ctx)
	if err != nil {
		c.connectFailed(a, ErrCredential, err)
		return
	}

	adapter := transport.NewAdapter(c.rooms(), c.roomLog)

	c.mu.Lock()
	if a.gen != c.gen || c.state != Connecting {
		c.mu.Unlock()
		adapter.Disconnect()
		return
	}
	c.adapter = adapter
	c.mu.Unlock()

	go c.pump(a.gen, adapter)

	if err := adapter.Connect(ctx, cred); err != nil {
		c.connectFailed(a, ErrConnection, err)
	}
}

func (c *Controller) await(ctx context.Context, a *attempt) (SessionState, error) {
	select {
	case <-a.done:
	case <-ctx.Done():
		return c.Status().Session, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, a.err
}

func (c *Controller) connectFailed(a *attempt, kind, cause error) {
	err := fmt.Errorf("%w: %w", kind, cause)
	c.log.Error("connection failed", "error", err)

	c.mu.Lock()
	if a.gen != c.gen || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	adapter := c.adapter
	c.adapter = nil
	c.gen++
	c.state = Error
	c.systemLocked(fmt.Sprintf("Connection failed: %v", cause))
	c.statusChangedLocked()
	c.settleLocked(a, err)
	c.mu.Unlock()
	c.flush()

	if adapter != nil {
		adapter.Disconnect()
	}
}

func (c *Controller) pump(gen uint64, adapter *transport.Adapter) {
	for ev := range adapter.Events() {
		c.intake(gen, ev)
	}
}

// intake applies one transport event. Events from a superseded session
// are dropped.
func (c *Controller) intake(gen uint64, ev transport.Event) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		c.log.Debug("dropped stale event", "event", ev.Kind)
		return
	}

	var after func()
	switch ev.Kind {
	case transport.EventConnected:
		if c.state == Connecting {
			c.state = Connected
			c.mic = MicMuted
			c.systemLocked(MsgConnected)
			c.statusChangedLocked()
			c.settleLocked(c.current, nil)
		}

	case transport.EventDisconnected:
		after = c.onDisconnectedLocked(ev.Err)

	case transport.EventAgentJoined:
		c.systemLocked(MsgAgentJoined)

	case transport.EventError:
		c.log.Error("room error", "error", ev.Err, "fatal", ev.Fatal)
		if ev.Fatal {
			after = c.onDisconnectedLocked(ev.Err)
		} else {
			c.systemLocked(fmt.Sprintf("Room error: %v", ev.Err))
		}

	case transport.EventRemoteAudioTrack:
		if c.player != nil {
			track := ev.Track
			after = func() { c.player.Attach(track) }
		}

	case transport.EventDataReceived:
		if text := strings.TrimSpace(string(ev.Data)); text != "" {
			c.appendLocked(history.SenderAssistant, text, history.ModalityVoice)
		}
	}
	c.mu.Unlock()
	c.flush()

	if after != nil {
		after()
	}
}

func (c *Controller) onDisconnectedLocked(cause error) func() {
	if c.state == Connecting {
		if cause == nil {
			cause = transport.ErrNotConnected
		}
		err := fmt.Errorf("%w: %w", ErrConnection, cause)
		adapter := c.adapter
		c.adapter = nil
		c.gen++
		c.state = Error
		c.systemLocked(fmt.Sprintf("Connection failed: %v", cause))
		c.statusChangedLocked()
		c.settleLocked(c.current, err)
		return func() { c.release(adapter) }
	}

	if cause != nil {
		c.log.Error("connection lost", "error", cause)
		c.systemLocked(fmt.Sprintf("Connection lost: %v", cause))
	}
	adapter := c.teardownLocked()
	return func() { c.release(adapter) }
}

// teardownLocked resets the session state and hands back the adapter for
// release outside the lock.
func (c *Controller) teardownLocked() *transport.Adapter {
	c.gen++
	if c.current != nil {
		c.settleLocked(c.current, ErrCanceled)
	}

	prev := c.state
	changed := prev != Idle || c.voice || c.mic != MicMuted || c.micHeld
	adapter := c.adapter
	c.adapter = nil
	c.state = Idle
	c.voice = false
	c.mic = MicMuted
	c.micHeld = false

	if prev == Connecting || prev == Connected {
		c.systemLocked(MsgDisconnected)
	}
	if changed {
		c.statusChangedLocked()
	}
	return adapter
}

func (c *Controller) release(adapter *transport.Adapter) {
	if err := c.syncLoop(); err != nil {
		c.log.Error("failed to stop voice recognition", "error", err)
		c.system(fmt.Sprintf("Failed to stop voice recognition: %v", err))
	}
	if adapter == nil {
		return
	}
	if err := adapter.Disconnect(); err != nil {
		c.log.Error("disconnect failed", "error", err)
		c.system(fmt.Sprintf("Disconnect failed: %v", err))
	}
}

// syncLoop starts or stops the capture loop to match voice mode.
func (c *Controller) syncLoop() error {
	if c.loop == nil {
		return nil
	}
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	c.mu.Lock()
	want := c.voice
	c.mu.Unlock()

	if want == c.loop.Running() {
		return nil
	}
	if want {
		return c.loop.Start()
	}
	return c.loop.Stop()
}

// syncMic enables or disables the room's microphone to match the mic
// state. Rooms start with the microphone disabled. A failed update leaves
// the room as it was and is returned when it concerns the current session.
func (c *Controller) syncMic(ctx context.Context) error {
	c.micMu.Lock()
	defer c.micMu.Unlock()

	c.mu.Lock()
	adapter := c.adapter
	want := c.mic == MicLive && c.state == Connected
	c.mu.Unlock()

	if adapter != c.micAdapter {
		c.micAdapter = adapter
		c.micApplied = false
	}
	if adapter == nil || want == c.micApplied {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, micTimeout)
	defer cancel()
	if err := adapter.SetLocalAudioEnabled(ctx, want); err != nil {
		c.log.Error("failed to set microphone", "error", err, "enabled", want)
		c.mu.Lock()
		current := adapter == c.adapter
		if current {
			c.systemLocked(fmt.Sprintf("Failed to update microphone: %v", err))
		}
		c.mu.Unlock()
		c.flush()
		if !current {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrMicrophone, err)
	}
	c.micApplied = want
	c.log.Debug("microphone", "enabled", want)
	return nil
}

func (c *Controller) scheduleReplyLocked() {
	if c.replies == nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(c.replyDelay, func() {
		c.mu.Lock()
		if _, ok := c.replies[t]; !ok {
			c.mu.Unlock()
			return
		}
		delete(c.replies, t)
		c.appendLocked(history.SenderAssistant, MsgOfflineReply, history.ModalityText)
		c.mu.Unlock()
		c.flush()
	})
	c.replies[t] = struct{}{}
}

func (c *Controller) settleLocked(a *attempt, err error) {
	if a == nil {
		return
	}
	select {
	case <-a.done:
	default:
		a.err = err
		close(a.done)
	}
}

func (c *Controller) statusLocked() Status {
	return Status{
		Session:     c.state,
		Voice:       c.voice,
		Mic:         c.mic,
		MicHeld:     c.micHeld,
		OutputAudio: c.outputAudio,
		Speech:      c.loop != nil,
	}
}

func (c *Controller) system(content string) {
	c.mu.Lock()
	c.systemLocked(content)
	c.mu.Unlock()
	c.flush()
}

func (c *Controller) systemLocked(content string) {
	c.appendLocked(history.SenderSystem, content, history.ModalityText)
}

func (c *Controller) appendLocked(
	sender history.Sender,
	content string,
	modality history.Modality,
) {
	entry := c.history.Append(sender, content, modality)
	c.log.Info("entry", "id", entry.ID, "sender", sender, "modality", modality)
	c.notifyLocked(func(o Observer) { o.EntryAppended(entry) })
}

func (c *Controller) statusChangedLocked() {
	s := c.statusLocked()
	c.log.Debug(
		"status",
		"session", s.Session,
		"voice", s.Voice,
		"mic", s.Mic,
		"held", s.MicHeld,
		"audio", s.OutputAudio,
	)
	c.notifyLocked(func(o Observer) { o.StatusChanged(s) })
}

func (c *Controller) notifyLocked(n func(Observer)) {
	if c.observer != nil {
		c.pending = append(c.pending, n)
	}
}

// flush delivers queued notifications in the order they were queued.
func (c *Controller) flush() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for {
		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, n := range pending {
			n(c.observer)
		}
	}
}

// speechIntake receives the capture loop's results.
type speechIntake struct {
	c *Controller
}

func (s speechIntake) OnFinal(text string) {
	c := s.c
	c.mu.Lock()
	if !c.voice || c.micHeld {
		held := c.micHeld
		c.mu.Unlock()
		c.log.Debug("dropped speech", "held", held)
		return
	}
	c.appendLocked(history.SenderUser, text, history.ModalityVoice)
	c.mu.Unlock()
	c.flush()
}

func (s speechIntake) OnInterim(text string) {
	c := s.c
	c.mu.Lock()
	if !c.voice || c.micHeld {
		c.mu.Unlock()
		return
	}
	c.notifyLocked(func(o Observer) { o.Interim(text) })
	c.mu.Unlock()
	c.flush()
}

func (s speechIntake) OnError(err error) {
	c := s.c
	c.log.Error("speech recognition failed", "error", err)

	c.mu.Lock()
	if !c.voice {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.voice = false
	c.mic = MicMuted
	c.micHeld = false
	c.systemLocked(fmt.Sprintf("Speech recognition error: %v", err))
	c.statusChangedLocked()
	c.mu.Unlock()
	c.flush()

	// This runs on the loop goroutine, which must stay free to drain the
	// recognizer while it stops.
	go func() {
		if err := c.syncLoop(); err != nil {
			c.log.Error("failed to stop voice recognition", "error", err)
		}
		if err := c.syncMic(context.Background()); err != nil {
			c.log.Warn("microphone still open, ending session", "error", err)
			c.endSession(gen)
		}
	}()
}
