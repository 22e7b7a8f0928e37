package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mahaj/groupchat/pkg/auth"
	"github.com/mahaj/groupchat/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10
)

var newline = []byte{'\n'}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Identity taken from the bearer token.
	user model.User

	// Inbound event budget.
	limiter *rate.Limiter

	// Group the connection is joined to. Owned by readPump.
	group string
}

// readPump pumps events from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user", c.user.ID).Msg("read error")
			}
			break
		}
		if !c.limiter.Allow() {
			eventsDropped.WithLabelValues("rate_limited").Inc()
			continue
		}

		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			eventsDropped.WithLabelValues("malformed").Inc()
			log.Debug().Err(err).Str("user", c.user.ID).Msg("dropping malformed event")
			continue
		}
		c.handle(ev)
	}
}

// handle applies one inbound event. Ids are always taken from the token,
// never from the payload.
func (c *Client) handle(ev model.Event) {
	eventsReceived.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case model.EventJoin:
		if ev.GroupID == "" {
			eventsDropped.WithLabelValues("invalid").Inc()
			return
		}
		c.group = ev.GroupID
		c.hub.join <- subscription{client: c, group: ev.GroupID}
		return
	case model.EventLeave:
		if ev.GroupID == "" || ev.GroupID != c.group {
			return
		}
		c.group = ""
		c.hub.leave <- subscription{client: c, group: ev.GroupID}
		return
	}

	if c.group == "" || ev.GroupID != c.group {
		eventsDropped.WithLabelValues("not_joined").Inc()
		return
	}
	ev.UserID = c.user.ID
	ev.Seq = 0

	switch ev.Type {
	case model.EventMessage:
		if ev.Message == nil || ev.Message.ID == "" {
			eventsDropped.WithLabelValues("invalid").Inc()
			return
		}
		ev.Message.GroupID = c.group
		ev.Message.Author = c.user
		ev.Message.ReadBy = nil
		if ev.Message.Timestamp.IsZero() {
			ev.Message.Timestamp = time.Now()
		}
	case model.EventTyping:
	case model.EventReadReceipt:
		if ev.MessageID == "" {
			eventsDropped.WithLabelValues("invalid").Inc()
			return
		}
	default:
		eventsDropped.WithLabelValues("unsupported").Inc()
		return
	}
	c.hub.broadcast <- &ev
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued events to the current websocket frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type wsHandler struct {
	hub        *Hub
	issuer     *auth.Issuer
	eventRate  rate.Limit
	eventBurst int
}

// ServeHTTP authenticates and upgrades a websocket request.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		// Browsers cannot set headers on websocket requests.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := h.issuer.ValidateToken(token)
	if err != nil {
		log.Debug().Err(err).Msg("rejecting websocket token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		user:    claims.User(),
		limiter: rate.NewLimiter(h.eventRate, h.eventBurst),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
