package transport

// Messages exchanged with a room server as websocket text frames. Remote
// audio travels in binary frames, one RTP packet per frame, identified by
// the SSRC announced in a "track" message.
const (
	MsgWelcome           = "welcome"
	MsgParticipantJoined = "participant_joined"
	MsgParticipantLeft   = "participant_left"
	MsgTrack             = "track"
	MsgData              = "data"
	MsgMic               = "mic"
	MsgError             = "error"
)

type TrackInfo struct {
	SID  string    `json:"sid"`
	Kind TrackKind `json:"kind"`
	SSRC uint32    `json:"ssrc"`
}

type Envelope struct {
	Type         string        `json:"type"`
	Room         string        `json:"room,omitempty"`
	Identity     string        `json:"identity,omitempty"`
	Participant  *Participant  `json:"participant,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Track        *TrackInfo    `json:"track,omitempty"`
	Payload      []byte        `json:"payload,omitempty"`
	Reliable     bool          `json:"reliable,omitempty"`
	Enabled      bool          `json:"enabled,omitempty"`
	Error        string        `json:"error,omitempty"`
	Fatal        bool          `json:"fatal,omitempty"`
}
