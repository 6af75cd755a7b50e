package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agendahub/internal/visibility"
	"agendahub/pkg/logger"
	"agendahub/store"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	authorizeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Client struct {
	Hub   *Hub
	Conn  *websocket.Conn
	Actor visibility.Actor
	Send  chan []byte

	// topics is owned by the hub goroutine.
	topics map[string]bool
}

// ServeWs upgrades the request and attaches the connection to hub. The
// connection starts with no subscriptions.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, actor visibility.Actor) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:    hub,
		Conn:   conn,
		Actor:  actor,
		Send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}

	select {
	case hub.Register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}

		var sub subscription
		switch msg.Type {
		case SubscribeType:
			sub = subscription{client: c, topic: msg.Topic, err: c.authorize(msg.Topic)}
			if sub.err != nil {
				logger.Sugar.Warnf("Subscription refused: user %s topic %q: %v", c.Actor.ID, msg.Topic, sub.err)
			}
		case UnsubscribeType:
			sub = subscription{client: c, topic: msg.Topic, leave: true}
		default:
			sub = subscription{client: c, topic: msg.Topic, err: fmt.Errorf("%w: frame type %q", store.ErrInvalidInput, msg.Type)}
		}

		select {
		case c.Hub.subs <- sub:
		case <-c.Hub.done:
			return
		}
	}
}

func (c *Client) authorize(topic string) error {
	if _, _, ok := store.ParseTopic(topic); !ok {
		return fmt.Errorf("%w: topic %q", store.ErrInvalidInput, topic)
	}
	if c.Hub.Authorize == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), authorizeWait)
	defer cancel()
	return c.Hub.Authorize(ctx, c.Actor, topic)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
