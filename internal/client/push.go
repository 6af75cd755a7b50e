package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"agendahub/internal/syncengine"
	"agendahub/pkg/logger"
	"agendahub/socket"

	"github.com/gorilla/websocket"
)

// PushClient is a syncengine.PushChannel over a single websocket. Topic
// subscriptions outlive the connection: after a reconnect every topic with a
// live handler is subscribed again.
type PushClient struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	backoff Backoff

	// OnReconnect runs after every successful reconnect, not after the first
	// connect. Events published while disconnected are lost, so this is the
	// place to reconcile.
	OnReconnect func()

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]map[uint64]syncengine.Handler
	nextID   uint64

	writeMu sync.Mutex
}

func NewPushClient(wsURL, token string) *PushClient {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return &PushClient{
		url:      wsURL,
		header:   header,
		dialer:   websocket.DefaultDialer,
		backoff:  DefaultBackoff(),
		handlers: make(map[string]map[uint64]syncengine.Handler),
	}
}

// WithBackoff replaces the reconnect schedule.
func (p *PushClient) WithBackoff(b Backoff) *PushClient {
	p.backoff = b
	return p
}

// Subscribe registers h for topic. It never fails because the connection is
// down; the subscription is sent once the connection is back.
func (p *PushClient) Subscribe(_ context.Context, topic string, h syncengine.Handler) (func(), error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	first := len(p.handlers[topic]) == 0
	if first {
		p.handlers[topic] = make(map[uint64]syncengine.Handler)
	}
	p.handlers[topic][id] = h
	conn := p.conn
	p.mu.Unlock()

	if first && conn != nil {
		p.send(conn, socket.WSMessage{Type: socket.SubscribeType, Topic: topic})
	}

	var once sync.Once
	return func() { once.Do(func() { p.unsubscribe(topic, id) }) }, nil
}

func (p *PushClient) unsubscribe(topic string, id uint64) {
	p.mu.Lock()
	delete(p.handlers[topic], id)
	last := len(p.handlers[topic]) == 0
	if last {
		delete(p.handlers, topic)
	}
	conn := p.conn
	p.mu.Unlock()

	if last && conn != nil {
		p.send(conn, socket.WSMessage{Type: socket.UnsubscribeType, Topic: topic})
	}
}

func (p *PushClient) send(conn *websocket.Conn, msg socket.WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		// The read loop notices the broken connection and reconnects.
		logger.Sugar.Warnf("Push channel write failed: %v", err)
	}
}

// Run keeps the connection open until ctx is done, reconnecting with backoff.
func (p *PushClient) Run(ctx context.Context) error {
	connected := false
	attempt := 0
	for {
		conn, _, err := p.dialer.DialContext(ctx, p.url, p.header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := p.backoff.Delay(attempt)
			attempt++
			logger.Sugar.Warnf("Push channel connect failed, retrying in %s: %v", delay, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		topics := p.attach(conn)
		for _, topic := range topics {
			p.send(conn, socket.WSMessage{Type: socket.SubscribeType, Topic: topic})
		}
		if connected && p.OnReconnect != nil {
			p.OnReconnect()
		}
		connected = true
		logger.Sugar.Infof("Push channel connected to %s (%d topics)", p.url, len(topics))

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		p.readLoop(conn)
		stop()
		p.detach(conn)

		if ctx.Err() != nil {
			return nil
		}
		logger.Sugar.Warnf("Push channel disconnected, reconnecting")
	}
}

// attach installs conn and returns the topics to subscribe on it.
func (p *PushClient) attach(conn *websocket.Conn) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	topics := make([]string, 0, len(p.handlers))
	for topic := range p.handlers {
		topics = append(topics, topic)
	}
	return topics
}

func (p *PushClient) detach(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	conn.Close()
}

// readLoop dispatches frames in arrival order until the connection fails.
func (p *PushClient) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg socket.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Sugar.Errorf("Malformed push frame: %v", err)
			continue
		}

		switch msg.Type {
		case socket.SubscribedType:
			logger.Sugar.Debugf("Subscribed to %s", msg.Topic)
		case socket.ErrorType:
			logger.Sugar.Warnf("Push channel refused %s: %s", msg.Topic, string(msg.Payload))
		default:
			for _, h := range p.handlersFor(msg.Topic) {
				h(msg.Payload)
			}
		}
	}
}

func (p *PushClient) handlersFor(topic string) []syncengine.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]syncengine.Handler, 0, len(p.handlers[topic]))
	for _, h := range p.handlers[topic] {
		out = append(out, h)
	}
	return out
}
