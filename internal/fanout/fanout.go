// Package fanout turns a confirmed mutation into one notification per
// interested actor, persists each one and pushes it to its recipient.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"agendahub/pkg/logger"
	"agendahub/store"
)

type TriggerKind string

const (
	TriggerMessage    TriggerKind = "message"
	TriggerStatus     TriggerKind = "status"
	TriggerVisibility TriggerKind = "visibility"
)

// Trigger describes a confirmed mutation. Message is set for TriggerMessage.
type Trigger struct {
	Kind    TriggerKind
	Record  store.Record
	ActorID string
	Message *store.Message
}

// Sink persists notifications.
type Sink interface {
	CreateNotification(ctx context.Context, n store.Notification) (store.Notification, error)
}

// Publisher delivers a persisted notification on its recipient's topic.
type Publisher interface {
	PublishNotification(n store.Notification) error
}

// Namer renders actor IDs for humans.
type Namer interface {
	DisplayName(ctx context.Context, id string) string
}

type Fanout struct {
	sink     Sink
	pub      Publisher
	names    Namer
	attempts int
	backoff  time.Duration
}

type Option func(*Fanout)

// WithRetry sets how many times each recipient is attempted and the initial
// delay between attempts, doubled after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(f *Fanout) {
		if attempts > 0 {
			f.attempts = attempts
		}
		f.backoff = backoff
	}
}

func New(sink Sink, pub Publisher, names Namer, opts ...Option) *Fanout {
	f := &Fanout{sink: sink, pub: pub, names: names, attempts: 3, backoff: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Interested is (visibility ∪ {owner}) minus the acting actor, sorted and
// without duplicates.
func Interested(rec store.Record, actorID string) []string {
	seen := make(map[string]struct{}, len(rec.Visibility)+1)
	add := func(id string) {
		if id == "" || id == actorID {
			return
		}
		seen[id] = struct{}{}
	}
	add(rec.OwnerID)
	for _, id := range rec.Visibility {
		add(id)
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Notify creates and pushes one notification per interested recipient.
// Recipients are independent: a failure for one does not stop the others, and
// notifications created before an error stay valid. The returned slice holds
// every notification that was persisted; the error joins the failures.
func (f *Fanout) Notify(ctx context.Context, t Trigger) ([]store.Notification, error) {
	recipients := Interested(t.Record, t.ActorID)
	if len(recipients) == 0 {
		return nil, nil
	}

	title, body := f.summarize(ctx, t)
	link := Link(t.Record)
	if t.Kind == TriggerMessage {
		link += "#messages"
	}

	var (
		created []store.Notification
		errs    []error
	)
	for _, recipient := range recipients {
		n, err := f.createWithRetry(ctx, store.Notification{
			RecipientID: recipient,
			Title:       title,
			Body:        body,
			Link:        link,
		})
		if err != nil {
			logger.Sugar.Errorf("Fan-out to %s for %s %s failed: %v", recipient, t.Record.Kind, t.Record.ID, err)
			errs = append(errs, fmt.Errorf("notify %s: %w", recipient, err))
			continue
		}
		created = append(created, n)

		// Already persisted; the recipient can still fetch it if the push is lost.
		if err := f.pub.PublishNotification(n); err != nil {
			logger.Sugar.Warnf("Push of notification %s to %s failed: %v", n.ID, recipient, err)
		}
	}
	return created, errors.Join(errs...)
}

func (f *Fanout) createWithRetry(ctx context.Context, n store.Notification) (store.Notification, error) {
	delay := f.backoff
	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return store.Notification{}, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		created, err := f.sink.CreateNotification(ctx, n)
		if err == nil {
			return created, nil
		}
		lastErr = err
	}
	return store.Notification{}, lastErr
}

func (f *Fanout) summarize(ctx context.Context, t Trigger) (string, string) {
	who := t.ActorID
	if f.names != nil {
		who = f.names.DisplayName(ctx, t.ActorID)
	}
	subject := recordTitle(t.Record)

	switch t.Kind {
	case TriggerMessage:
		body := ""
		if t.Message != nil {
			body = excerpt(t.Message.Body, 80)
		}
		return fmt.Sprintf("New message on %s", subject), fmt.Sprintf("%s: %s", who, body)
	case TriggerStatus:
		return fmt.Sprintf("%s is now %s", subject, t.Record.Status),
			fmt.Sprintf("%s changed the status to %s", who, t.Record.Status)
	case TriggerVisibility:
		return fmt.Sprintf("Access to %s changed", subject),
			fmt.Sprintf("%s updated who can see this %s", who, t.Record.Kind)
	}
	return subject, fmt.Sprintf("%s changed this %s", who, t.Record.Kind)
}

// Link is the reference a notification carries back to its record.
func Link(rec store.Record) string {
	return fmt.Sprintf("/%s/%s", rec.Kind, rec.ID)
}

func recordTitle(rec store.Record) string {
	var p struct {
		Title string `json:"title"`
	}
	if len(rec.Payload) > 0 && json.Unmarshal(rec.Payload, &p) == nil && p.Title != "" {
		return fmt.Sprintf("%q", p.Title)
	}
	return fmt.Sprintf("%s %s", rec.Kind, rec.ID)
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
