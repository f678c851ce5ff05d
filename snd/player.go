package snd

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"node.town/voxroom/transport"
)

const (
	OpusFrameDuration = 20 * time.Millisecond
	SampleRate        = 48000
	Channels          = 2

	samplesPerFrame = SampleRate / 1000 * 20
)

// A silent 20ms Opus frame.
var SilentOpusFrame = []byte{0xf8, 0xff, 0xfe}

type OggWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// OggWriterWrapper wraps oggwriter.OggWriter to implement OggWriter
type OggWriterWrapper struct {
	writer *oggwriter.OggWriter
}

func NewOggWriter(w io.Writer) (*OggWriterWrapper, error) {
	writer, err := oggwriter.NewWith(w, SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create OggWriter: %w", err)
	}
	return &OggWriterWrapper{writer: writer}, nil
}

func (o *OggWriterWrapper) WriteRTP(packet *rtp.Packet) error {
	return o.writer.WriteRTP(packet)
}

func (o *OggWriterWrapper) Close() error {
	return o.writer.Close()
}

// Player plays the agent's audio tracks into an Ogg Opus stream. While
// muted it keeps the timeline going with silent frames. A Player without
// a writer discards everything.
type Player struct {
	log    *log.Logger
	writer OggWriter

	mu      sync.Mutex
	muted   bool
	closed  bool
	ssrc    uint32
	segment uint64
	played  int
	silent  int
}

func NewPlayer(writer OggWriter, logger *log.Logger) *Player {
	if logger == nil {
		logger = log.Default()
	}
	return &Player{
		log:    logger,
		writer: writer,
		ssrc:   0x766f7872,
	}
}

// OpenFile returns a Player writing to path, or a discarding Player when
// path is empty.
func OpenFile(path string, logger *log.Logger) (*Player, error) {
	if path == "" {
		return NewPlayer(nil, logger), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create playback file: %w", err)
	}
	writer, err := NewOggWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return NewPlayer(writer, logger), nil
}

// Attach plays track until its packet channel closes.
func (p *Player) Attach(track *transport.RemoteTrack) {
	if track == nil || track.Packets == nil {
		return
	}
	p.log.Info("attached", "sid", track.SID, "participant", track.Participant.Identity)
	go func() {
		for packet := range track.Packets {
			if err := p.WritePacket(packet); err != nil {
				p.log.Error("failed to play packet", "error", err, "sid", track.SID)
			}
		}
		p.log.Debug("track ended", "sid", track.SID)
	}()
}

func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// WritePacket renumbers packet onto the player's own timeline so that
// several tracks, one after another, form a single stream.
func (p *Player) WritePacket(packet *rtp.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.writer == nil {
		return nil
	}

	payload := packet.Payload
	if p.muted {
		payload = SilentOpusFrame
		p.silent++
	} else {
		p.played++
	}

	p.segment++
	out := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0x78,
			SequenceNumber: uint16(p.segment),
			Timestamp:      uint32(p.segment * samplesPerFrame),
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	if err := p.writer.WriteRTP(out); err != nil {
		return fmt.Errorf("error writing RTP packet: %w", err)
	}
	return nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.log.Info("playback summary", "played", p.played, "silent", p.silent)
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			return fmt.Errorf("failed to close OggWriter: %w", err)
		}
	}
	return nil
}
