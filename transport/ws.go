package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
)

const (
	PingInterval     = 30 * time.Second
	PongTimeout      = 60 * time.Second
	HandshakeTimeout = 10 * time.Second
	WriteTimeout     = 5 * time.Second

	trackBuffer = 3 * 1000 / 20 // 3 seconds of 20ms frames
)

// WSRoom is a Room spoken over a single websocket.
type WSRoom struct {
	log    *log.Logger
	dialer *websocket.Dialer
	events chan RoomEvent

	pingInterval time.Duration
	pongTimeout  time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	identity string
	tracks   map[uint32]*wsTrack
	closing  bool
	finished bool

	done      chan struct{}
	closeOnce sync.Once
}

type wsTrack struct {
	info    RemoteTrack
	packets chan *rtp.Packet
}

func NewWSRoom(logger *log.Logger) *WSRoom {
	if logger == nil {
		logger = log.Default()
	}
	return &WSRoom{
		log:          logger,
		dialer:       websocket.DefaultDialer,
		events:       make(chan RoomEvent, 64),
		pingInterval: PingInterval,
		pongTimeout:  PongTimeout,
		tracks:       make(map[uint32]*wsTrack),
		done:         make(chan struct{}),
	}
}

func (r *WSRoom) Events() <-chan RoomEvent {
	return r.events
}

func (r *WSRoom) Identity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

func (r *WSRoom) Connect(ctx context.Context, url, token string) error {
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	conn, resp, err := r.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}

	deadline := time.Now().Add(HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var welcome Envelope
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return fmt.Errorf("read welcome: %w", err)
	}
	switch welcome.Type {
	case MsgWelcome:
	case MsgError:
		conn.Close()
		return fmt.Errorf("room refused: %s", welcome.Error)
	default:
		conn.Close()
		return fmt.Errorf("unexpected %q before welcome", welcome.Type)
	}
	// A server that stops answering pings is treated as gone.
	conn.SetReadDeadline(time.Now().Add(r.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(r.pongTimeout))
	})

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	r.conn = conn
	r.identity = welcome.Identity
	r.mu.Unlock()

	r.log.Info("joined", "room", welcome.Room, "identity", welcome.Identity)

	r.emit(RoomEvent{Kind: RoomConnected})
	for _, p := range welcome.Participants {
		r.emit(RoomEvent{Kind: ParticipantConnected, Participant: p})
	}

	go r.readLoop(conn)
	go r.keepAlive(conn)
	return nil
}

func (r *WSRoom) Disconnect() error {
	r.mu.Lock()
	r.closing = true
	conn := r.conn
	r.mu.Unlock()

	r.closeOnce.Do(func() { close(r.done) })
	if conn == nil {
		return nil
	}

	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(WriteTimeout),
	)
	if closeErr := conn.Close(); err == nil {
		err = closeErr
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}

func (r *WSRoom) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return r.writeJSON(ctx, Envelope{Type: MsgMic, Enabled: enabled})
}

func (r *WSRoom) PublishData(
	ctx context.Context,
	payload []byte,
	opts DataOptions,
) error {
	return r.writeJSON(ctx, Envelope{
		Type:     MsgData,
		Payload:  payload,
		Reliable: opts.Reliable,
	})
}

func (r *WSRoom) writeJSON(ctx context.Context, env Envelope) error {
	r.mu.Lock()
	conn := r.conn
	closing := r.closing || r.finished
	r.mu.Unlock()
	if conn == nil || closing {
		return ErrNotConnected
	}

	deadline := time.Now().Add(WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

func (r *WSRoom) readLoop(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			r.finish(err)
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			packet := &rtp.Packet{}
			if err := packet.Unmarshal(data); err != nil {
				r.log.Warn("bad rtp packet", "error", err, "bytes", len(data))
				continue
			}
			r.deliver(packet)

		case websocket.TextMessage:
			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				r.log.Warn("bad message", "error", err)
				continue
			}
			r.dispatch(env)
		}
	}
}

func (r *WSRoom) dispatch(env Envelope) {
	switch env.Type {
	case MsgParticipantJoined:
		if env.Participant != nil {
			r.emit(RoomEvent{Kind: ParticipantConnected, Participant: *env.Participant})
		}

	case MsgParticipantLeft:
		if env.Participant != nil {
			r.log.Info("left", "identity", env.Participant.Identity)
		}

	case MsgTrack:
		if env.Track == nil || env.Participant == nil {
			return
		}
		packets := make(chan *rtp.Packet, trackBuffer)
		track := &wsTrack{
			info: RemoteTrack{
				SID:         env.Track.SID,
				Kind:        env.Track.Kind,
				SSRC:        env.Track.SSRC,
				Participant: *env.Participant,
				Packets:     packets,
			},
			packets: packets,
		}
		r.mu.Lock()
		if old, ok := r.tracks[env.Track.SSRC]; ok {
			close(old.packets)
		}
		r.tracks[env.Track.SSRC] = track
		r.mu.Unlock()

		info := track.info
		r.emit(RoomEvent{
			Kind:        TrackSubscribed,
			Participant: *env.Participant,
			Track:       &info,
		})

	case MsgData:
		var sender Participant
		if env.Participant != nil {
			sender = *env.Participant
		}
		r.emit(RoomEvent{Kind: DataReceived, Participant: sender, Payload: env.Payload})

	case MsgError:
		r.log.Error("room", "error", env.Error, "fatal", env.Fatal)
		r.emit(RoomEvent{
			Kind:  RoomError,
			Err:   errors.New(env.Error),
			Fatal: env.Fatal,
		})

	default:
		r.log.Warn("unhandled message", "type", env.Type)
	}
}

func (r *WSRoom) deliver(packet *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	track, ok := r.tracks[packet.SSRC]
	if !ok {
		return
	}
	select {
	case track.packets <- packet:
	default:
		r.log.Warn("track buffer full, dropping packet", "sid", track.info.SID)
	}
}

func (r *WSRoom) finish(readErr error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	closing := r.closing
	for ssrc, track := range r.tracks {
		close(track.packets)
		delete(r.tracks, ssrc)
	}
	r.mu.Unlock()

	var err error
	if !closing && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		err = fmt.Errorf("connection lost: %w", readErr)
	}
	r.log.Info("disconnected", "error", err)
	r.emit(RoomEvent{Kind: RoomDisconnected, Err: err})
	close(r.events)
}

func (r *WSRoom) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			err := conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(WriteTimeout),
			)
			if err != nil {
				r.log.Error("failed to send ping", "error", err)
				return
			}
		}
	}
}

func (r *WSRoom) emit(ev RoomEvent) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}
