package transport

import (
	"context"
	"errors"

	"github.com/pion/rtp"
)

var ErrNotConnected = errors.New("room is not connected")

const KindAgent = "agent"

// Credential authorizes one room session.
type Credential struct {
	Token    string `json:"token"`
	RoomName string `json:"roomName"`
	URL      string `json:"url"`
}

type Participant struct {
	Identity string            `json:"identity"`
	Kind     string            `json:"kind,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsAgent reports whether the participant is the conversational agent.
func (p Participant) IsAgent() bool {
	return p.Kind == KindAgent || p.Metadata["agent"] == "true"
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// RemoteTrack is a media track published by another participant. Packets
// is closed when the track or the room goes away. Rooms drop packets that
// nobody reads.
type RemoteTrack struct {
	SID         string
	Kind        TrackKind
	SSRC        uint32
	Participant Participant
	Packets     <-chan *rtp.Packet
}

type DataOptions struct {
	Reliable bool
}

type RoomEventKind int

const (
	RoomConnected RoomEventKind = iota
	RoomDisconnected
	ParticipantConnected
	TrackSubscribed
	DataReceived
	RoomError
)

// RoomEvent is something the room reported. Fatal marks a RoomError after
// which the room is unusable.
type RoomEvent struct {
	Kind        RoomEventKind
	Participant Participant
	Track       *RemoteTrack
	Payload     []byte
	Err         error
	Fatal       bool
}

// Room is a real-time audio and data session with a media server.
type Room interface {
	Connect(ctx context.Context, url, token string) error
	Disconnect() error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	PublishData(ctx context.Context, payload []byte, opts DataOptions) error
	Events() <-chan RoomEvent
}

// RoomFactory creates a fresh, unconnected room for each session attempt.
type RoomFactory func() Room
