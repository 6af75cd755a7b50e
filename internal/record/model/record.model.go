package model

import (
	"encoding/json"

	"agendahub/store"
)

type CreateRecordRequest struct {
	Visibility []string        `json:"visibility"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
}

type AddMessageRequest struct {
	ParentID   string `json:"parent_id"`
	Body       string `json:"body"`
	Attachment string `json:"attachment,omitempty"`
}

// ScheduleEventRequest creates an event. An empty Slot takes the next
// available one on Day.
type ScheduleEventRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Day         string   `json:"day"`
	Slot        string   `json:"slot,omitempty"`
	Visibility  []string `json:"visibility"`
}

type MoveEventRequest struct {
	Day  string `json:"day"`
	Slot string `json:"slot"`
}

// ScheduleResponse carries the stored event and the IDs of other events that
// share its slot. Conflicts are informational only.
type ScheduleResponse struct {
	Record    store.Record `json:"record"`
	Conflicts []string     `json:"conflicts"`
}

type NextSlotResponse struct {
	Day  string `json:"day"`
	Slot string `json:"slot"`
}

type PresignRequest struct {
	ParentID string `json:"parent_id"`
	Filename string `json:"filename"`
}
