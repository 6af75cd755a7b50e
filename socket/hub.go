package socket

import (
	"context"
	"encoding/json"
	"errors"

	"agendahub/internal/visibility"
	"agendahub/pkg/logger"
	"agendahub/store"
)

const (
	SubscribeType   = "SUBSCRIBE"   // client asks for a topic
	UnsubscribeType = "UNSUBSCRIBE" // client leaves a topic
	SubscribedType  = "SUBSCRIBED"  // subscription accepted
	ErrorType       = "ERROR"       // subscription refused or bad frame

	RecordEventType  = "RECORD_EVENT" // created/updated/deleted record
	MessageType      = "MESSAGE"      // message appended to a record
	NotificationType = "NOTIFICATION" // notification for the connected actor
)

var ErrHubClosed = errors.New("hub closed")

type WSMessage struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Authorizer decides whether actor may subscribe to topic.
type Authorizer func(ctx context.Context, actor visibility.Actor, topic string) error

// Delivery is one frame bound for a topic. Select, when set, picks the frame
// each subscriber receives; returning false skips that subscriber.
type Delivery struct {
	Topic   string
	Message WSMessage
	Select  func(c *Client) (WSMessage, bool)
}

type subscription struct {
	client *Client
	topic  string
	err    error
	leave  bool
}

type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan Delivery
	Register   chan *Client
	Unregister chan *Client
	subs       chan subscription
	done       chan struct{}

	clients   map[*Client]bool
	resolver  *visibility.Resolver
	Authorize Authorizer
}

func NewHub(resolver *visibility.Resolver) *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan Delivery, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		subs:       make(chan subscription),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		resolver:   resolver,
	}
}

// Run owns every room and every client's Send channel. It returns when ctx
// is cancelled, closing all connections.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.drop(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.clients[client] = true

		case client := <-h.Unregister:
			h.drop(client)

		case sub := <-h.subs:
			if !h.clients[sub.client] {
				continue
			}
			switch {
			case sub.leave:
				h.leave(sub.client, sub.topic)
			case sub.err != nil:
				h.send(sub.client, WSMessage{Type: ErrorType, Topic: sub.topic, Payload: errorPayload(sub.err)})
			default:
				if h.Rooms[sub.topic] == nil {
					h.Rooms[sub.topic] = make(map[*Client]bool)
				}
				h.Rooms[sub.topic][sub.client] = true
				sub.client.topics[sub.topic] = true
				h.send(sub.client, WSMessage{Type: SubscribedType, Topic: sub.topic})
			}

		case d := <-h.Broadcast:
			for client := range h.Rooms[d.Topic] {
				msg := d.Message
				if d.Select != nil {
					var ok bool
					if msg, ok = d.Select(client); !ok {
						continue
					}
				}
				msg.Topic = d.Topic
				h.send(client, msg)
			}
		}
	}
}

// send must only be called from Run. A client whose buffer is full is
// dropped instead of stalling the hub.
func (h *Hub) send(client *Client, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s frame for %s: %v", msg.Type, msg.Topic, err)
		return
	}
	select {
	case client.Send <- payload:
	default:
		logger.Sugar.Warnf("Client %s's send buffer is full. Dropping connection.", client.Actor.ID)
		h.drop(client)
	}
}

func (h *Hub) leave(client *Client, topic string) {
	delete(client.topics, topic)
	if room, ok := h.Rooms[topic]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.Rooms, topic)
		}
	}
}

func (h *Hub) drop(client *Client) {
	if !h.clients[client] {
		return
	}
	for topic := range client.topics {
		h.leave(client, topic)
	}
	delete(h.clients, client)
	close(client.Send)
}

func (h *Hub) publish(d Delivery) error {
	select {
	case h.Broadcast <- d:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// PublishRecord pushes a record change to the kind's topic. Each subscriber
// gets the event only if they can view the record. Subscribers who could view
// prev but not the new state get a bare deleted event so they evict it.
func (h *Hub) PublishRecord(ev store.Event, prev *store.Record) {
	full, err := json.Marshal(ev)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling record event %s: %v", ev.Record.ID, err)
		return
	}
	evicted, _ := json.Marshal(store.Event{
		Type:   store.EventDeleted,
		Kind:   ev.Kind,
		Record: store.Record{ID: ev.Record.ID, Kind: ev.Kind},
	})

	err = h.publish(Delivery{
		Topic: store.RecordTopic(ev.Kind),
		Select: func(c *Client) (WSMessage, bool) {
			switch {
			case h.resolver.CanView(c.Actor, ev.Record):
				return WSMessage{Type: RecordEventType, Payload: full}, true
			case prev != nil && h.resolver.CanView(c.Actor, *prev):
				return WSMessage{Type: RecordEventType, Payload: evicted}, true
			}
			return WSMessage{}, false
		},
	})
	if err != nil {
		logger.Sugar.Warnf("Record event %s not published: %v", ev.Record.ID, err)
	}
}

// PublishMessage pushes a new message to sessions that can still view its parent.
func (h *Hub) PublishMessage(m store.Message, parent store.Record) {
	payload, err := json.Marshal(m)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling message %s: %v", m.ID, err)
		return
	}
	err = h.publish(Delivery{
		Topic: store.MessagesTopic(m.ParentID),
		Select: func(c *Client) (WSMessage, bool) {
			if !h.resolver.CanView(c.Actor, parent) {
				return WSMessage{}, false
			}
			return WSMessage{Type: MessageType, UserID: m.AuthorID, Payload: payload}, true
		},
	})
	if err != nil {
		logger.Sugar.Warnf("Message %s not published: %v", m.ID, err)
	}
}

// PublishNotification pushes n to its recipient's sessions.
func (h *Hub) PublishNotification(n store.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return h.publish(Delivery{
		Topic: store.NotificationsTopic(n.RecipientID),
		Select: func(c *Client) (WSMessage, bool) {
			return WSMessage{Type: NotificationType, Payload: payload}, c.Actor.ID == n.RecipientID
		},
	})
}

func errorPayload(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
