// Package ingress is the HTTP side of the bot protocol: it receives the
// OneBot v11 event POSTs a reverse-proxied client (go-cqhttp and
// successors) sends for every inbound message and notice, translates them
// into the dispatcher's domain types, and hands them off asynchronously so
// the client gets its 200 OK without waiting on a full reply turn.
package ingress

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/groupmind/groupmind/internal/botgateway"
)

// Dispatcher is the subset of dispatcher.Dispatcher the ingress server
// drives; satisfied by *dispatcher.Dispatcher.
type Dispatcher interface {
	HandleMessage(ctx context.Context, msg botgateway.Message) error
	HandlePoke(ctx context.Context, notice botgateway.PokeNotice) error
}

// Config controls the inbound HTTP listener.
type Config struct {
	Addr        string
	AccessToken string // expected Authorization: Bearer token, empty disables auth
	MaxBodyMB   int64
}

// DefaultConfig matches the OneBot reverse-proxy defaults.
func DefaultConfig() Config {
	return Config{Addr: "127.0.0.1:5700", MaxBodyMB: 4}
}

// Server is the inbound OneBot event endpoint.
type Server struct {
	cfg     Config
	disp    Dispatcher
	server  *http.Server
	wsConns int32
}

// New wires a Server bound to disp. "/" accepts the HTTP POST webhook
// events go-cqhttp-style clients send by default; "/ws" accepts the same
// events over a persistent reverse-WebSocket connection for clients
// configured that way instead.
func New(cfg Config, disp Dispatcher) *Server {
	s := &Server{cfg: cfg, disp: disp}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleEvent)
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.server = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Start runs the HTTP server until Stop is called or it fails to bind.
func (s *Server) Start() error {
	log.Printf("[ingress] listening on %s", s.cfg.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) authenticate(r *http.Request) bool {
	if s.cfg.AccessToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return auth[len("Bearer "):] == s.cfg.AccessToken
	}
	return r.Header.Get("x-onebot-token") == s.cfg.AccessToken
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	maxBytes := s.cfg.MaxBodyMB
	if maxBytes <= 0 {
		maxBytes = 4
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes*1024*1024)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var evt rawEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	s.dispatchEvent(evt)

	w.WriteHeader(http.StatusOK)
}

// dispatchEvent routes a decoded OneBot event to the dispatcher, shared by
// both the HTTP POST path and the reverse-WebSocket path — the event shape
// on the wire is identical, only the transport differs.
func (s *Server) dispatchEvent(evt rawEvent) {
	switch evt.PostType {
	case "message":
		msg := evt.toMessage()
		go func() {
			if err := s.disp.HandleMessage(context.Background(), msg); err != nil {
				log.Printf("[ingress] handle message: %v", err)
			}
		}()
	case "notice":
		if evt.NoticeType == "poke" {
			notice := evt.toPokeNotice()
			go func() {
				if err := s.disp.HandlePoke(context.Background(), notice); err != nil {
					log.Printf("[ingress] handle poke: %v", err)
				}
			}()
		}
	}
}

// rawEvent is the superset of fields OneBot v11 message and notice events
// carry; numeric ids are decoded loosely since implementations vary between
// emitting them as JSON numbers and as strings.
type rawEvent struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	NoticeType  string          `json:"notice_type"`
	MessageID   json.Number     `json:"message_id"`
	GroupID     json.Number     `json:"group_id"`
	UserID      json.Number     `json:"user_id"`
	TargetID    json.Number     `json:"target_id"`
	RawMessage  string          `json:"raw_message"`
	Message     []rawSegment    `json:"message"`
	Sender      rawSender       `json:"sender"`
	Time        int64           `json:"time"`
}

type rawSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

type rawSender struct {
	UserID   json.Number `json:"user_id"`
	Nickname string      `json:"nickname"`
	Card     string      `json:"card"`
}

func (e rawEvent) toMessage() botgateway.Message {
	segs := make([]botgateway.Segment, 0, len(e.Message))
	for _, s := range e.Message {
		segs = append(segs, botgateway.Segment{Type: botgateway.SegmentType(s.Type), Data: s.Data})
	}
	name := e.Sender.Card
	if name == "" {
		name = e.Sender.Nickname
	}
	return botgateway.Message{
		MessageID: e.MessageID.String(),
		GroupID:   numericOrEmpty(e.GroupID),
		UserID:    e.UserID.String(),
		UserName:  name,
		Segments:  segs,
		RawText:   e.RawMessage,
		Time:      timeFromUnix(e.Time),
	}
}

func (e rawEvent) toPokeNotice() botgateway.PokeNotice {
	return botgateway.PokeNotice{
		GroupID:  numericOrEmpty(e.GroupID),
		UserID:   e.UserID.String(),
		TargetID: e.TargetID.String(),
	}
}

func numericOrEmpty(n json.Number) string {
	if n == "" {
		return ""
	}
	return n.String()
}

func timeFromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
