package ingress

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// maxWSConnBytes matches the HTTP path's default body cap; a WS event frame
// carries the same rawEvent payload, just over a persistent connection
// instead of one POST per event.
const maxWSConnBytes = 4 * 1024 * 1024

const wsPingInterval = 30 * time.Second

// handleWebSocket accepts the reverse-WebSocket connection mode some
// OneBot v11 implementations use instead of (or alongside) HTTP POST
// events: the bot client dials out to this server once and streams every
// event as a JSON text frame over the life of the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Printf("[ingress] ws accept: %v", err)
		return
	}
	conn.SetReadLimit(maxWSConnBytes)
	atomic.AddInt32(&s.wsConns, 1)
	defer func() {
		atomic.AddInt32(&s.wsConns, -1)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writeMu sync.Mutex
	go s.pingLoop(ctx, conn, &writeMu)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var evt rawEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("[ingress] ws invalid event payload: %v", err)
			continue
		}
		s.dispatchEvent(evt)
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			writeMu.Lock()
			err := conn.Write(writeCtx, websocket.MessageText, []byte(`{"type":"ping"}`))
			writeMu.Unlock()
			cancel()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}
