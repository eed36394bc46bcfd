package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/courier/internal/messaging"
	"github.com/tOgg1/courier/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS already restricts browsers; the token gates everything else.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame types pushed to the client.
const (
	FrameState         = "state"
	FrameNotifications = "notifications"
	FrameError         = "error"
)

// Frame is one websocket message.
type Frame struct {
	Type          string                `json:"type"`
	State         *messaging.State      `json:"state,omitempty"`
	Notifications []models.Notification `json:"notifications,omitempty"`
	Unread        int                   `json:"unread,omitempty"`
	Op            string                `json:"op,omitempty"`
	Message       string                `json:"message,omitempty"`
	At            *time.Time            `json:"at,omitempty"`
}

// wsClient pushes one session's state to one connection.
type wsClient struct {
	conn    *websocket.Conn
	session *Session
	logger  zerolog.Logger
	closed  chan struct{}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:    conn,
		session: sess,
		logger:  s.logger.With().Str("user_id", sess.Identity.ID).Logger(),
		closed:  make(chan struct{}),
	}
	go client.writePump()
	go client.readPump()
}

// readPump only services control frames; clients act through the HTTP
// routes.
func (c *wsClient) readPump() {
	defer func() {
		close(c.closed)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	states, cancelStates := c.session.Messaging.Subscribe()
	notes, cancelNotes := c.session.Notifications.Subscribe()
	notices := c.session.Messaging.Errors()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancelStates()
		cancelNotes()
		_ = c.conn.Close()
	}()

	for {
		var frame Frame
		select {
		case <-c.closed:
			return
		case <-c.session.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			frame = Frame{Type: FrameState, State: &state}
		case list, ok := <-notes:
			if !ok {
				return
			}
			frame = Frame{Type: FrameNotifications, Notifications: list, Unread: countUnread(list)}
		case notice := <-notices:
			at := notice.At
			frame = Frame{Type: FrameError, Op: notice.Op, Message: notice.Message(), At: &at}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		data, err := json.Marshal(frame)
		if err != nil {
			c.logger.Error().Err(err).Str("type", frame.Type).Msg("failed to encode frame")
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func countUnread(list []models.Notification) int {
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n
}
