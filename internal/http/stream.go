package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/wagate/internal/session"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

const (
	maxWSMessageSize = 4 * 1024
	pongWait         = 60 * time.Second
	pingInterval     = 30 * time.Second
	writeWait        = 10 * time.Second
	sendBuffer       = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same-origin checks do not apply; the stream is token-guarded where it matters.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamClient is one status stream subscriber. Session state changes are
// always pushed; inbound messages only to authorized clients.
type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	seq  int64
	mu   sync.Mutex
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	authorized := s.authorized(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("stream.upgrade_failed", "error", err)
		return
	}
	c := &streamClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	slog.Debug("stream.connected", "client", c.id, "messages", authorized)

	unsubState := s.sess.OnStateChange(func(st session.State) {
		c.push(protocol.EventSessionStatus, statusPayload(st))
	})
	defer unsubState()
	if authorized {
		unsubMsg := s.sess.OnMessage(func(m transport.MessageReceived) {
			c.push(protocol.EventMessageReceived, protocol.MessagePayload{
				ID:        m.ID,
				From:      m.From,
				Chat:      m.Chat,
				Text:      m.Text,
				Timestamp: m.Timestamp,
			})
		})
		defer unsubMsg()
	}
	c.push(protocol.EventSessionStatus, statusPayload(s.sess.State()))

	go func() {
		select {
		case <-r.Context().Done():
			c.push(protocol.EventShutdown, nil)
			c.close()
		case <-c.done:
		}
	}()

	go c.writePump()
	c.readPump()
	c.close()
	slog.Debug("stream.disconnected", "client", c.id)
}

func (c *streamClient) push(event string, payload any) {
	c.mu.Lock()
	c.seq++
	frame := protocol.NewEvent(event, payload)
	frame.Seq = c.seq
	c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("stream.marshal", "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("stream.buffer_full", "client", c.id, "event", event)
	}
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump discards client frames; it only detects disconnects and keeps
// the read deadline fresh.
func (c *streamClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("stream.read_error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-c.done:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case msg := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
