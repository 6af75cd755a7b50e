package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind names a record collection.
type Kind string

const (
	KindProject Kind = "project"
	KindAgenda  Kind = "agenda"
	KindPending Kind = "pending"
	KindEvent   Kind = "event"
)

// Kinds lists every record kind in a stable order.
var Kinds = []Kind{KindProject, KindAgenda, KindPending, KindEvent}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

var statuses = map[Kind][]string{
	KindProject: {"planned", "active", "done", "cancelled"},
	KindAgenda:  {"pending", "in-progress", "done", "cancelled"},
	KindPending: {"pending", "in-progress", "done", "cancelled"},
	KindEvent:   {"scheduled", "done", "cancelled"},
}

// Statuses returns the closed status set of a kind.
func Statuses(kind Kind) []string {
	return append([]string(nil), statuses[kind]...)
}

func ValidStatus(kind Kind, status string) bool {
	for _, s := range statuses[kind] {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultStatus is the status a record of the kind starts in.
func DefaultStatus(kind Kind) string {
	if s := statuses[kind]; len(s) > 0 {
		return s[0]
	}
	return ""
}

// TempIDPrefix tags identifiers assigned locally before the durable store confirms a create.
const TempIDPrefix = "tmp-"

func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

type Record struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	OwnerID    string          `json:"owner_id"`
	Visibility []string        `json:"visibility"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no slices with r.
func (r Record) Clone() Record {
	c := r
	if r.Visibility != nil {
		c.Visibility = append([]string(nil), r.Visibility...)
	}
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return c
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status     *string         `json:"status,omitempty"`
	Visibility *[]string       `json:"visibility,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Apply returns r with the patch applied. Timestamps are left to the durable store.
func (p Patch) Apply(r Record) Record {
	out := r.Clone()
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Visibility != nil {
		out.Visibility = append([]string{}, (*p.Visibility)...)
	}
	if len(p.Payload) > 0 {
		out.Payload = append(json.RawMessage(nil), p.Payload...)
	}
	return out
}

// Filter narrows a list call. Zero values match everything.
type Filter struct {
	Status string `json:"status,omitempty"`
	// Day restricts event records to one calendar day ("2006-01-02").
	Day string `json:"day,omitempty"`
}

// Message is a child entry attached to a record. It inherits the parent's visibility.
type Message struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id"`
	ParentKind Kind      `json:"parent_kind"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	Attachment string    `json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification is owned by a single recipient. Only Read ever changes.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Link        string    `json:"link"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is the payload published on a record topic.
type Event struct {
	Type   EventType `json:"type"`
	Kind   Kind      `json:"kind"`
	Record Record    `json:"record"`
}

// EventPayload holds the schedule of an event record.
type EventPayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Day         string `json:"day"`
	Slot        string `json:"slot"`
}

// DecodeEventPayload reads the schedule fields of an event record.
func DecodeEventPayload(r Record) (EventPayload, error) {
	var p EventPayload
	if len(r.Payload) == 0 {
		return p, nil
	}
	err := json.Unmarshal(r.Payload, &p)
	return p, err
}
