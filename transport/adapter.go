package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventDataReceived
	EventRemoteAudioTrack
	EventAgentJoined
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventDataReceived:
		return "data"
	case EventRemoteAudioTrack:
		return "audio_track"
	case EventAgentJoined:
		return "agent_joined"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind   EventKind
	Data   []byte
	Sender Participant
	Track  *RemoteTrack
	Err    error
	Fatal  bool
}

// Adapter turns the events of one Room into the small set the session
// cares about. Only the agent's joins and audio tracks are passed on.
type Adapter struct {
	room Room
	log  *log.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewAdapter(room Room, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	a := &Adapter{
		room:   room,
		log:    logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Events is closed once the room stops reporting or the adapter is
// disconnected.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

func (a *Adapter) Connect(ctx context.Context, cred Credential) error {
	a.log.Info("connecting", "room", cred.RoomName, "url", cred.URL)
	if err := a.room.Connect(ctx, cred.URL, cred.Token); err != nil {
		return fmt.Errorf("connect to room %q: %w", cred.RoomName, err)
	}
	return nil
}

// Disconnect always releases the adapter. The returned error only reports
// a failed teardown on the room side.
func (a *Adapter) Disconnect() error {
	err := a.room.Disconnect()
	a.closeOnce.Do(func() { close(a.done) })
	if err != nil {
		return fmt.Errorf("disconnect room: %w", err)
	}
	return nil
}

func (a *Adapter) SetLocalAudioEnabled(ctx context.Context, enabled bool) error {
	if err := a.room.SetMicrophoneEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("set microphone enabled=%t: %w", enabled, err)
	}
	return nil
}

func (a *Adapter) PublishData(
	ctx context.Context,
	payload []byte,
	opts DataOptions,
) error {
	if err := a.room.PublishData(ctx, payload, opts); err != nil {
		return fmt.Errorf("publish %d bytes: %w", len(payload), err)
	}
	return nil
}

func (a *Adapter) run() {
	defer close(a.events)

	roomEvents := a.room.Events()
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-roomEvents:
			if !ok {
				return
			}
			out, forward := a.translate(ev)
			if !forward {
				continue
			}
			select {
			case a.events <- out:
			case <-a.done:
				return
			}
		}
	}
}

func (a *Adapter) translate(ev RoomEvent) (Event, bool) {
	switch ev.Kind {
	case RoomConnected:
		return Event{Kind: EventConnected}, true

	case RoomDisconnected:
		return Event{Kind: EventDisconnected, Err: ev.Err}, true

	case ParticipantConnected:
		a.log.Info("participant", "identity", ev.Participant.Identity, "kind", ev.Participant.Kind)
		if !ev.Participant.IsAgent() {
			return Event{}, false
		}
		return Event{Kind: EventAgentJoined, Sender: ev.Participant}, true

	case TrackSubscribed:
		if ev.Track == nil {
			return Event{}, false
		}
		a.log.Debug(
			"track",
			"sid", ev.Track.SID,
			"kind", ev.Track.Kind,
			"participant", ev.Track.Participant.Identity,
		)
		if ev.Track.Kind != TrackAudio || !ev.Track.Participant.IsAgent() {
			return Event{}, false
		}
		return Event{
			Kind:   EventRemoteAudioTrack,
			Sender: ev.Track.Participant,
			Track:  ev.Track,
		}, true

	case DataReceived:
		return Event{
			Kind:   EventDataReceived,
			Data:   ev.Payload,
			Sender: ev.Participant,
		}, true

	case RoomError:
		return Event{Kind: EventError, Err: ev.Err, Fatal: ev.Fatal}, true

	default:
		a.log.Warn("unhandled room event", "kind", ev.Kind)
		return Event{}, false
	}
}
