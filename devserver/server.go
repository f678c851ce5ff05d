package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/randutil"

	"node.town/voxroom/transport"
)

const sidRunes = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

type Config struct {
	AgentName  string
	ReplyDelay time.Duration
	// Greeting is said by the agent when it joins. Empty means silence.
	Greeting string
}

// Server is a development stand-in for a token service and a media room
// with a single echoing agent in it.
type Server struct {
	log      *log.Logger
	cfg      Config
	upgrader websocket.Upgrader
	rand     randutil.MathRandomGenerator

	mu     sync.Mutex
	tokens map[string]string
	calls  map[*call]struct{}
}

func New(cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "assistant"
	}
	return &Server{
		log: logger,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rand:   randutil.NewMathRandomGenerator(),
		tokens: make(map[string]string),
		calls:  make(map[*call]struct{}),
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/api/token", s.handleToken)
	r.Get("/rtc", s.handleRTC)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	s.Routes(r)
	return r
}

// Close hangs up every call in progress.
func (s *Server) Close() {
	s.mu.Lock()
	calls := make([]*call, 0, len(s.calls))
	for c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.Unlock()

	for _, c := range calls {
		c.hangUp()
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	cred := transport.Credential{
		Token:    uuid.NewString(),
		RoomName: "voxroom-" + strings.Split(uuid.NewString(), "-")[0],
		URL:      fmt.Sprintf("%s://%s/rtc", scheme, r.Host),
	}

	s.mu.Lock()
	s.tokens[cred.Token] = cred.RoomName
	s.mu.Unlock()

	s.log.Info("token", "room", cred.RoomName, "request", middleware.GetReqID(r.Context()))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cred); err != nil {
		s.log.Error("failed to write token", "error", err)
	}
}

func (s *Server) handleRTC(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	room, ok := s.tokens[token]
	delete(s.tokens, token)
	s.mu.Unlock()

	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade failed", "error", err)
		return
	}

	c := s.newCall(conn, room)
	s.mu.Lock()
	s.calls[c] = struct{}{}
	s.mu.Unlock()

	c.run()

	s.mu.Lock()
	delete(s.calls, c)
	s.mu.Unlock()
}

func (s *Server) newCall(conn *websocket.Conn, room string) *call {
	user := transport.Participant{Identity: "user-" + strings.Split(uuid.NewString(), "-")[0]}
	agent := transport.Participant{
		Identity: s.cfg.AgentName,
		Kind:     transport.KindAgent,
		Metadata: map[string]string{"agent": "true"},
	}
	return &call{
		log:        s.log.With("room", room),
		conn:       conn,
		room:       room,
		user:       user,
		agent:      agent,
		replyDelay: s.cfg.ReplyDelay,
		greeting:   s.cfg.Greeting,
		track: transport.TrackInfo{
			SID:  "TR_" + s.rand.GenerateString(12, sidRunes),
			Kind: transport.TrackAudio,
			SSRC: s.rand.Uint32(),
		},
		done: make(chan struct{}),
	}
}
