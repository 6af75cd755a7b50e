package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"agendahub/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	created []store.Notification
	failFor map[string]int // recipient -> remaining failures
}

func (s *memSink) CreateNotification(_ context.Context, n store.Notification) (store.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[n.RecipientID] > 0 {
		s.failFor[n.RecipientID]--
		return store.Notification{}, errors.New("insert failed")
	}
	n.ID = fmt.Sprintf("n%d", len(s.created)+1)
	s.created = append(s.created, n)
	return n, nil
}

type memPublisher struct {
	mu   sync.Mutex
	sent []store.Notification
	err  error
}

func (p *memPublisher) PublishNotification(n store.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return p.err
}

type names map[string]string

func (n names) DisplayName(_ context.Context, id string) string {
	if v, ok := n[id]; ok {
		return v
	}
	return id
}

func recipients(ns []store.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.RecipientID)
	}
	return out
}

func TestInterested(t *testing.T) {
	rec := store.Record{OwnerID: "A", Visibility: []string{"B", "C", "B"}}
	assert.Equal(t, []string{"A", "C"}, Interested(rec, "B"))
	assert.Equal(t, []string{"B", "C"}, Interested(rec, "A"))
	assert.Empty(t, Interested(store.Record{OwnerID: "A"}, "A"))
}

func TestInterestedNeverContainsActor(t *testing.T) {
	recs := []store.Record{
		{OwnerID: "A"},
		{OwnerID: "A", Visibility: []string{"A"}},
		{OwnerID: "B", Visibility: []string{"A", "C"}},
		{OwnerID: "", Visibility: []string{"", "A"}},
	}
	for _, rec := range recs {
		assert.NotContains(t, Interested(rec, "A"), "A")
		assert.NotContains(t, Interested(rec, "A"), "")
	}
}

func TestNotifyMessageAppend(t *testing.T) {
	sink := &memSink{}
	pub := &memPublisher{}
	f := New(sink, pub, names{"B": "Budi"}, WithRetry(1, 0))

	payload, _ := json.Marshal(map[string]string{"title": "Budget review"})
	rec := store.Record{ID: "r1", Kind: store.KindAgenda, OwnerID: "A", Visibility: []string{"B", "C"}, Payload: payload}
	msg := &store.Message{ParentID: "r1", AuthorID: "B", Body: "see the  attached\nfile"}

	created, err := f.Notify(context.Background(), Trigger{Kind: TriggerMessage, Record: rec, ActorID: "B", Message: msg})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, recipients(created))
	assert.Equal(t, []string{"A", "C"}, recipients(pub.sent))

	n := created[0]
	assert.Equal(t, "/agenda/r1#messages", n.Link)
	assert.Equal(t, `New message on "Budget review"`, n.Title)
	assert.Equal(t, "Budi: see the attached file", n.Body)
	assert.False(t, n.Read)
}

func TestNotifyStatusChange(t *testing.T) {
	sink := &memSink{}
	f := New(sink, &memPublisher{}, nil, WithRetry(1, 0))
	rec := store.Record{ID: "p1", Kind: store.KindProject, OwnerID: "A", Status: "done"}

	created, err := f.Notify(context.Background(), Trigger{Kind: TriggerStatus, Record: rec, ActorID: "X"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "A", created[0].RecipientID)
	assert.Equal(t, "project p1 is now done", created[0].Title)
	assert.Equal(t, "/project/p1", created[0].Link)
}

func TestNotifyPartialFailureKeepsCreated(t *testing.T) {
	sink := &memSink{failFor: map[string]int{"C": 5}}
	pub := &memPublisher{}
	f := New(sink, pub, nil, WithRetry(2, 0))
	rec := store.Record{ID: "r1", Kind: store.KindPending, OwnerID: "A", Visibility: []string{"B", "C", "D"}}

	created, err := f.Notify(context.Background(), Trigger{Kind: TriggerVisibility, Record: rec, ActorID: "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify C")
	assert.Equal(t, []string{"B", "D"}, recipients(created))
	assert.Equal(t, []string{"B", "D"}, recipients(pub.sent))
}

func TestNotifyRetriesPerRecipient(t *testing.T) {
	sink := &memSink{failFor: map[string]int{"B": 2}}
	f := New(sink, &memPublisher{}, nil, WithRetry(3, 0))
	rec := store.Record{ID: "r1", Kind: store.KindPending, OwnerID: "A", Visibility: []string{"B"}}

	created, err := f.Notify(context.Background(), Trigger{Kind: TriggerStatus, Record: rec, ActorID: "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, recipients(created))
	assert.Len(t, sink.created, 1)
}

func TestNotifyPushFailureIsNotFatal(t *testing.T) {
	sink := &memSink{}
	f := New(sink, &memPublisher{err: errors.New("socket closed")}, nil, WithRetry(1, 0))
	rec := store.Record{ID: "r1", Kind: store.KindEvent, OwnerID: "A"}

	created, err := f.Notify(context.Background(), Trigger{Kind: TriggerStatus, Record: rec, ActorID: "B"})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestNotifyNobodyToTell(t *testing.T) {
	sink := &memSink{}
	f := New(sink, &memPublisher{}, nil)
	created, err := f.Notify(context.Background(), Trigger{Kind: TriggerStatus, Record: store.Record{OwnerID: "A"}, ActorID: "A"})
	assert.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, sink.created)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("short", 10))
	assert.Equal(t, "abcde...", excerpt("abcdefghij", 5))
}
