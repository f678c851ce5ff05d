package devserver

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"node.town/voxroom/token"
	"node.town/voxroom/transport"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

func startServer(t *testing.T, cfg Config) (*httptest.Server, *Server) {
	t.Helper()
	dev := New(cfg, quietLogger())
	srv := httptest.NewServer(dev.Handler())
	t.Cleanup(func() {
		dev.Close()
		srv.Close()
	})
	return srv, dev
}

func nextRoomEvent(t *testing.T, room *transport.WSRoom) transport.RoomEvent {
	t.Helper()
	select {
	case ev, ok := <-room.Events():
		if !ok {
			t.Fatal("room events closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room event")
	}
	return transport.RoomEvent{}
}

func TestRoomRoundTrip(t *testing.T) {
	srv, _ := startServer(t, Config{AgentName: "echo"})
	ctx := context.Background()

	cred, err := token.NewClient(srv.URL + "/api/token").Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(cred.URL, "ws://") || !strings.HasSuffix(cred.URL, "/rtc") {
		t.Fatalf("credential url = %q", cred.URL)
	}

	room := transport.NewWSRoom(quietLogger())
	if err := room.Connect(ctx, cred.URL, cred.Token); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer room.Disconnect()

	if ev := nextRoomEvent(t, room); ev.Kind != transport.RoomConnected {
		t.Fatalf("first event = %v, want connected", ev.Kind)
	}
	if !strings.HasPrefix(room.Identity(), "user-") {
		t.Errorf("identity = %q", room.Identity())
	}

	joined := nextRoomEvent(t, room)
	if joined.Kind != transport.ParticipantConnected || !joined.Participant.IsAgent() {
		t.Fatalf("second event = %+v, want agent joining", joined)
	}

	sub := nextRoomEvent(t, room)
	if sub.Kind != transport.TrackSubscribed || sub.Track == nil || sub.Track.Kind != transport.TrackAudio {
		t.Fatalf("third event = %+v, want audio track", sub)
	}
	if sub.Track.Participant.Identity != "echo" {
		t.Errorf("track owner = %q", sub.Track.Participant.Identity)
	}

	if err := room.SetMicrophoneEnabled(ctx, true); err != nil {
		t.Fatalf("SetMicrophoneEnabled: %v", err)
	}
	if err := room.PublishData(ctx, []byte("hello there"), transport.DataOptions{Reliable: true}); err != nil {
		t.Fatalf("PublishData: %v", err)
	}

	reply := nextRoomEvent(t, room)
	if reply.Kind != transport.DataReceived {
		t.Fatalf("reply event = %v, want data", reply.Kind)
	}
	if string(reply.Payload) != "You said: hello there" || reply.Participant.Identity != "echo" {
		t.Errorf("reply = %q from %q", reply.Payload, reply.Participant.Identity)
	}

	select {
	case packet, ok := <-sub.Track.Packets:
		if !ok {
			t.Fatal("track closed before audio")
		}
		if packet.SSRC != sub.Track.SSRC {
			t.Errorf("packet ssrc = %d, want %d", packet.SSRC, sub.Track.SSRC)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audio from the agent")
	}
}

func TestRoomRejectsBadTokens(t *testing.T) {
	srv, _ := startServer(t, Config{})
	ctx := context.Background()
	rtcURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rtc"

	room := transport.NewWSRoom(quietLogger())
	err := room.Connect(ctx, rtcURL, "not-a-token")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Connect with unknown token error = %v, want 401", err)
	}

	cred, err := token.NewClient(srv.URL + "/api/token").Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	first := transport.NewWSRoom(quietLogger())
	if err := first.Connect(ctx, cred.URL, cred.Token); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer first.Disconnect()

	second := transport.NewWSRoom(quietLogger())
	if err := second.Connect(ctx, cred.URL, cred.Token); err == nil {
		second.Disconnect()
		t.Fatal("token accepted twice")
	}
}

func TestGreeting(t *testing.T) {
	srv, _ := startServer(t, Config{Greeting: "Hi, how can I help?"})
	ctx := context.Background()

	cred, err := token.NewClient(srv.URL + "/api/token").Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	room := transport.NewWSRoom(quietLogger())
	if err := room.Connect(ctx, cred.URL, cred.Token); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer room.Disconnect()

	for i := 0; i < 4; i++ {
		ev := nextRoomEvent(t, room)
		if ev.Kind == transport.DataReceived {
			if string(ev.Payload) != "Hi, how can I help?" {
				t.Errorf("greeting = %q", ev.Payload)
			}
			return
		}
	}
	t.Fatal("agent did not greet")
}
