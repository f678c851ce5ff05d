package devserver

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"

	"node.town/voxroom/snd"
	"node.town/voxroom/transport"
)

const (
	writeTimeout = 5 * time.Second

	framesPerWord = 10
	maxFrames     = 250
	opusPayload   = 111
)

// call is one client connected to a room with the agent.
type call struct {
	log        *log.Logger
	conn       *websocket.Conn
	room       string
	user       transport.Participant
	agent      transport.Participant
	track      transport.TrackInfo
	replyDelay time.Duration
	greeting   string

	writeMu sync.Mutex
	seq     uint16
	ts      uint32

	done      chan struct{}
	closeOnce sync.Once
}

func (c *call) run() {
	defer c.hangUp()

	welcome := transport.Envelope{
		Type:     transport.MsgWelcome,
		Room:     c.room,
		Identity: c.user.Identity,
	}
	if err := c.writeJSON(welcome); err != nil {
		c.log.Error("failed to send welcome", "error", err)
		return
	}
	c.log.Info("joined", "identity", c.user.Identity)

	c.writeJSON(transport.Envelope{
		Type:        transport.MsgParticipantJoined,
		Participant: &c.agent,
	})
	track := c.track
	c.writeJSON(transport.Envelope{
		Type:        transport.MsgTrack,
		Participant: &c.agent,
		Track:       &track,
	})
	if c.greeting != "" {
		go c.say(c.greeting)
	}

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read failed", "error", err)
			}
			c.log.Info("left", "identity", c.user.Identity)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("bad message", "error", err)
			continue
		}
		c.handle(env)
	}
}

func (c *call) handle(env transport.Envelope) {
	switch env.Type {
	case transport.MsgData:
		text := strings.TrimSpace(string(env.Payload))
		c.log.Info("data", "bytes", len(env.Payload), "reliable", env.Reliable)
		if text == "" {
			return
		}
		time.AfterFunc(c.replyDelay, func() {
			select {
			case <-c.done:
			default:
				c.say(fmt.Sprintf("You said: %s", text))
			}
		})

	case transport.MsgMic:
		c.log.Info("mic", "enabled", env.Enabled)

	default:
		c.log.Warn("unhandled message", "type", env.Type)
	}
}

// say sends text as the agent's transcript and plays a matching stretch of
// silence on the agent's track.
func (c *call) say(text string) {
	err := c.writeJSON(transport.Envelope{
		Type:        transport.MsgData,
		Participant: &c.agent,
		Payload:     []byte(text),
		Reliable:    true,
	})
	if err != nil {
		c.log.Error("failed to send reply", "error", err)
		return
	}

	frames := len(strings.Fields(text)) * framesPerWord
	if frames > maxFrames {
		frames = maxFrames
	}

	ticker := time.NewTicker(snd.OpusFrameDuration)
	defer ticker.Stop()
	for i := 0; i < frames; i++ {
		if err := c.writeFrame(snd.SilentOpusFrame); err != nil {
			c.log.Error("failed to send audio", "error", err)
			return
		}
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
	}
}

func (c *call) writeFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.seq++
	c.ts += uint32(snd.SampleRate / 1000 * int(snd.OpusFrameDuration/time.Millisecond))
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayload,
			SequenceNumber: c.seq,
			Timestamp:      c.ts,
			SSRC:           c.track.SSRC,
		},
		Payload: payload,
	}
	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *call) writeJSON(env transport.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(env)
}

func (c *call) hangUp() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
