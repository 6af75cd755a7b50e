package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agendahub/internal/fanout"
	"agendahub/internal/record/model"
	"agendahub/internal/slots"
	"agendahub/internal/visibility"
	"agendahub/pkg/attachment"
	"agendahub/pkg/logger"
	"agendahub/store"
)

var ErrAttachmentsDisabled = errors.New("attachments are not configured")

type Repository interface {
	List(ctx context.Context, kind store.Kind, filter store.Filter) ([]store.Record, error)
	Get(ctx context.Context, kind store.Kind, id string) (store.Record, error)
	Find(ctx context.Context, id string) (store.Record, error)
	Create(ctx context.Context, rec store.Record) (store.Record, error)
	Update(ctx context.Context, kind store.Kind, id string, patch store.Patch) (store.Record, error)
	Delete(ctx context.Context, kind store.Kind, id string) (store.Record, error)
	AddMessage(ctx context.Context, m store.Message) (store.Message, error)
	ListMessages(ctx context.Context, parentID string) ([]store.Message, error)
}

// Publisher pushes confirmed changes to subscribed sessions. prev is the
// record as it was before an update, or nil.
type Publisher interface {
	PublishRecord(ev store.Event, prev *store.Record)
	PublishMessage(m store.Message, parent store.Record)
}

type Notifier interface {
	Notify(ctx context.Context, t fanout.Trigger) ([]store.Notification, error)
}

type Presigner interface {
	PresignUpload(ctx context.Context, parentID, filename string) (attachment.Upload, error)
}

type RecordService struct {
	Repo        Repository
	Hub         Publisher
	Notifier    Notifier
	Resolver    *visibility.Resolver
	Attachments Presigner

	// FanoutTimeout bounds the notification work that follows a mutation.
	FanoutTimeout time.Duration
}

func NewRecordService(repo Repository, hub Publisher, notifier Notifier, resolver *visibility.Resolver, attachments Presigner) *RecordService {
	return &RecordService{
		Repo:          repo,
		Hub:           hub,
		Notifier:      notifier,
		Resolver:      resolver,
		Attachments:   attachments,
		FanoutTimeout: 30 * time.Second,
	}
}

func (s *RecordService) List(ctx context.Context, actor visibility.Actor, kind store.Kind, filter store.Filter) ([]store.Record, error) {
	recs, err := s.Repo.List(ctx, kind, filter)
	if err != nil {
		return nil, err
	}
	return s.Resolver.Filter(actor, recs), nil
}

// Get hides records the actor cannot view behind ErrNotFound.
func (s *RecordService) Get(ctx context.Context, actor visibility.Actor, kind store.Kind, id string) (store.Record, error) {
	rec, err := s.Repo.Get(ctx, kind, id)
	if err != nil {
		return store.Record{}, err
	}
	if !s.Resolver.CanView(actor, rec) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *RecordService) Create(ctx context.Context, actor visibility.Actor, kind store.Kind, req model.CreateRecordRequest) (store.Record, error) {
	status := req.Status
	if status == "" {
		status = store.DefaultStatus(kind)
	}
	if !store.ValidStatus(kind, status) {
		return store.Record{}, fmt.Errorf("%w: %q for %s", store.ErrInvalidStatus, status, kind)
	}
	if err := validatePayload(kind, req.Payload); err != nil {
		return store.Record{}, err
	}

	rec, err := s.Repo.Create(ctx, store.Record{
		Kind:       kind,
		OwnerID:    actor.ID,
		Visibility: normalizeIDs(req.Visibility),
		Status:     status,
		Payload:    req.Payload,
	})
	if err != nil {
		return store.Record{}, err
	}

	s.Hub.PublishRecord(store.Event{Type: store.EventCreated, Kind: kind, Record: rec}, nil)
	if len(rec.Visibility) > 0 {
		s.notify(ctx, fanout.Trigger{Kind: fanout.TriggerVisibility, Record: rec, ActorID: actor.ID})
	}
	return rec, nil
}

func (s *RecordService) Update(ctx context.Context, actor visibility.Actor, kind store.Kind, id string, patch store.Patch) (store.Record, error) {
	if patch.Status != nil && !store.ValidStatus(kind, *patch.Status) {
		return store.Record{}, fmt.Errorf("%w: %q for %s", store.ErrInvalidStatus, *patch.Status, kind)
	}
	if err := validatePayload(kind, patch.Payload); err != nil {
		return store.Record{}, err
	}

	current, err := s.Get(ctx, actor, kind, id)
	if err != nil {
		return store.Record{}, err
	}
	if !s.Resolver.CanMutate(actor, current) {
		return store.Record{}, store.ErrPermissionDenied
	}
	if patch.Visibility != nil {
		if !s.Resolver.CanManage(actor, current) {
			return store.Record{}, store.ErrPermissionDenied
		}
		vis := normalizeIDs(*patch.Visibility)
		patch.Visibility = &vis
	}

	updated, err := s.Repo.Update(ctx, kind, id, patch)
	if err != nil {
		return store.Record{}, err
	}

	s.Hub.PublishRecord(store.Event{Type: store.EventUpdated, Kind: kind, Record: updated}, &current)
	if updated.Status != current.Status {
		s.notify(ctx, fanout.Trigger{Kind: fanout.TriggerStatus, Record: updated, ActorID: actor.ID})
	}
	if !sameIDs(updated.Visibility, current.Visibility) {
		s.notify(ctx, fanout.Trigger{Kind: fanout.TriggerVisibility, Record: updated, ActorID: actor.ID})
	}
	return updated, nil
}

func (s *RecordService) Delete(ctx context.Context, actor visibility.Actor, kind store.Kind, id string) error {
	current, err := s.Get(ctx, actor, kind, id)
	if err != nil {
		return err
	}
	if !s.Resolver.CanManage(actor, current) {
		return store.ErrPermissionDenied
	}

	deleted, err := s.Repo.Delete(ctx, kind, id)
	if err != nil {
		return err
	}
	s.Hub.PublishRecord(store.Event{Type: store.EventDeleted, Kind: kind, Record: deleted}, nil)
	return nil
}

// parent returns the record a message thread hangs off, if actor may see it.
func (s *RecordService) parent(ctx context.Context, actor visibility.Actor, parentID string) (store.Record, error) {
	if store.IsTemporaryID(parentID) {
		return store.Record{}, store.ErrTemporaryID
	}
	rec, err := s.Repo.Find(ctx, parentID)
	if err != nil {
		return store.Record{}, err
	}
	if !s.Resolver.CanView(actor, rec) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *RecordService) AddMessage(ctx context.Context, actor visibility.Actor, req model.AddMessageRequest) (store.Message, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" && req.Attachment == "" {
		return store.Message{}, fmt.Errorf("%w: message body is empty", store.ErrInvalidInput)
	}
	parent, err := s.parent(ctx, actor, req.ParentID)
	if err != nil {
		return store.Message{}, err
	}

	msg, err := s.Repo.AddMessage(ctx, store.Message{
		ParentID:   parent.ID,
		ParentKind: parent.Kind,
		AuthorID:   actor.ID,
		Body:       body,
		Attachment: req.Attachment,
	})
	if err != nil {
		return store.Message{}, err
	}

	s.Hub.PublishMessage(msg, parent)
	s.notify(ctx, fanout.Trigger{Kind: fanout.TriggerMessage, Record: parent, ActorID: actor.ID, Message: &msg})
	return msg, nil
}

func (s *RecordService) ListMessages(ctx context.Context, actor visibility.Actor, parentID string) ([]store.Message, error) {
	if _, err := s.parent(ctx, actor, parentID); err != nil {
		return nil, err
	}
	return s.Repo.ListMessages(ctx, parentID)
}

// bookings lists the events of day that occupy a slot. Cancelled events free
// theirs.
func (s *RecordService) bookings(ctx context.Context, day string) ([]slots.Booking, error) {
	recs, err := s.Repo.List(ctx, store.KindEvent, store.Filter{Day: day})
	if err != nil {
		return nil, err
	}
	out := make([]slots.Booking, 0, len(recs))
	for _, rec := range recs {
		if rec.Status == "cancelled" {
			continue
		}
		p, err := store.DecodeEventPayload(rec)
		if err != nil || p.Day != day || !slots.IsValidSlot(p.Slot) {
			continue
		}
		out = append(out, slots.Booking{ID: rec.ID, Day: p.Day, Slot: p.Slot})
	}
	return out, nil
}

// NextSlot looks at every event of the day regardless of who can see it:
// the grid is shared.
func (s *RecordService) NextSlot(ctx context.Context, day string) (string, error) {
	if !slots.IsValidDay(day) {
		return "", fmt.Errorf("%w: %q", store.ErrInvalidDay, day)
	}
	bookings, err := s.bookings(ctx, day)
	if err != nil {
		return "", err
	}
	return slots.NextAvailable(day, bookings), nil
}

func (s *RecordService) ScheduleEvent(ctx context.Context, actor visibility.Actor, req model.ScheduleEventRequest) (model.ScheduleResponse, error) {
	if !slots.IsValidDay(req.Day) {
		return model.ScheduleResponse{}, fmt.Errorf("%w: %q", store.ErrInvalidDay, req.Day)
	}
	bookings, err := s.bookings(ctx, req.Day)
	if err != nil {
		return model.ScheduleResponse{}, err
	}
	slot := req.Slot
	if slot == "" {
		slot = slots.NextAvailable(req.Day, bookings)
	}
	if !slots.IsValidSlot(slot) {
		return model.ScheduleResponse{}, fmt.Errorf("%w: %q", store.ErrInvalidSlot, slot)
	}

	payload, err := json.Marshal(store.EventPayload{Title: req.Title, Description: req.Description, Day: req.Day, Slot: slot})
	if err != nil {
		return model.ScheduleResponse{}, err
	}
	rec, err := s.Create(ctx, actor, store.KindEvent, model.CreateRecordRequest{
		Visibility: req.Visibility,
		Payload:    payload,
	})
	if err != nil {
		return model.ScheduleResponse{}, err
	}
	return model.ScheduleResponse{Record: rec, Conflicts: conflictIDs(req.Day, slot, bookings, rec.ID)}, nil
}

// MoveEvent reschedules an event. Occupied targets are accepted and reported
// back as conflicts.
func (s *RecordService) MoveEvent(ctx context.Context, actor visibility.Actor, id string, req model.MoveEventRequest) (model.ScheduleResponse, error) {
	current, err := s.Get(ctx, actor, store.KindEvent, id)
	if err != nil {
		return model.ScheduleResponse{}, err
	}
	if !s.Resolver.CanMutate(actor, current) {
		return model.ScheduleResponse{}, store.ErrPermissionDenied
	}
	p, err := store.DecodeEventPayload(current)
	if err != nil {
		return model.ScheduleResponse{}, fmt.Errorf("%w: event payload: %v", store.ErrInvalidInput, err)
	}

	moved, err := slots.Move(slots.Booking{ID: current.ID, Day: p.Day, Slot: p.Slot}, req.Day, req.Slot)
	if err != nil {
		return model.ScheduleResponse{}, err
	}
	bookings, err := s.bookings(ctx, moved.Day)
	if err != nil {
		return model.ScheduleResponse{}, err
	}

	payload, err := mergePayload(current.Payload, map[string]string{"day": moved.Day, "slot": moved.Slot})
	if err != nil {
		return model.ScheduleResponse{}, err
	}
	rec, err := s.Update(ctx, actor, store.KindEvent, id, store.Patch{Payload: payload})
	if err != nil {
		return model.ScheduleResponse{}, err
	}
	return model.ScheduleResponse{Record: rec, Conflicts: conflictIDs(moved.Day, moved.Slot, bookings, rec.ID)}, nil
}

func (s *RecordService) PresignAttachment(ctx context.Context, actor visibility.Actor, req model.PresignRequest) (attachment.Upload, error) {
	if s.Attachments == nil {
		return attachment.Upload{}, ErrAttachmentsDisabled
	}
	if _, err := s.parent(ctx, actor, req.ParentID); err != nil {
		return attachment.Upload{}, err
	}
	return s.Attachments.PresignUpload(ctx, req.ParentID, req.Filename)
}

// AuthorizeTopic decides whether actor may subscribe to topic. Record topics
// are open to everyone since events are filtered per subscriber; notification
// topics belong to one actor; message topics follow the parent's visibility.
func (s *RecordService) AuthorizeTopic(ctx context.Context, actor visibility.Actor, topic string) error {
	family, id, ok := store.ParseTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", store.ErrInvalidInput, topic)
	}
	switch family {
	case store.TopicRecords:
		_, err := store.ParseKind(id)
		return err
	case store.TopicNotifications:
		if id != actor.ID {
			return store.ErrPermissionDenied
		}
		return nil
	case store.TopicMessages:
		_, err := s.parent(ctx, actor, id)
		return err
	}
	return store.ErrInvalidInput
}

// notify runs fan-out for a mutation that is already durable. Failures are
// logged and never undo the mutation.
func (s *RecordService) notify(ctx context.Context, t fanout.Trigger) {
	if s.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.FanoutTimeout)
	defer cancel()
	if _, err := s.Notifier.Notify(ctx, t); err != nil {
		logger.Sugar.Warnf("Notification fan-out for %s %s (%s) incomplete: %v", t.Record.Kind, t.Record.ID, t.Kind, err)
	}
}

func validatePayload(kind store.Kind, payload json.RawMessage) error {
	if len(payload) == 0 {
		return nil
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", store.ErrInvalidInput)
	}
	if kind != store.KindEvent {
		return nil
	}
	var p store.EventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: event payload: %v", store.ErrInvalidInput, err)
	}
	if p.Day != "" && !slots.IsValidDay(p.Day) {
		return fmt.Errorf("%w: %q", store.ErrInvalidDay, p.Day)
	}
	if p.Slot != "" && !slots.IsValidSlot(p.Slot) {
		return fmt.Errorf("%w: %q", store.ErrInvalidSlot, p.Slot)
	}
	return nil
}

// mergePayload overwrites keys of a JSON object and keeps every other field.
func mergePayload(raw json.RawMessage, fields map[string]string) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", store.ErrInvalidInput, err)
		}
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = b
	}
	return json.Marshal(obj)
}

func conflictIDs(day, slot string, bookings []slots.Booking, self string) []string {
	out := []string{}
	for _, b := range slots.Conflicts(day, slot, bookings) {
		if b.ID != self {
			out = append(out, b.ID)
		}
	}
	return out
}

// normalizeIDs trims, drops blanks and removes duplicates, keeping order.
func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
