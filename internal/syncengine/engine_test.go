package syncengine

import (
	"context"
	"testing"
	"time"

	"agendahub/internal/visibility"
	"agendahub/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func project(id, owner string, vis ...string) store.Record {
	return store.Record{ID: id, Kind: store.KindProject, OwnerID: owner, Visibility: vis, Status: "active", UpdatedAt: base}
}

func newEngine(actor visibility.Actor, a *fakeAdapter, p *fakePush) *Engine {
	return New(actor, visibility.NewResolver(), a, p, Config{ReconcileInterval: 10 * time.Millisecond, MutationTimeout: time.Second})
}

func ptr[T any](v T) *T { return &v }

func TestLoadFiltersByVisibility(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"), project("p2", "A", "C"), project("p3", "B"))
	e := newEngine(visibility.Actor{ID: "B"}, a, newFakePush())

	require.NoError(t, e.Load(context.Background(), store.KindProject))
	var ids []string
	for _, r := range e.List(store.KindProject) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"p1", "p3"}, ids)
}

func TestLoadAll(t *testing.T) {
	ev := store.Record{ID: "e1", Kind: store.KindEvent, OwnerID: "A", Status: "scheduled"}
	a := newFakeAdapter(project("p1", "A"), ev)
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())

	require.NoError(t, e.LoadAll(context.Background(), store.KindProject, store.KindEvent, store.KindAgenda))
	assert.Len(t, e.List(store.KindProject), 1)
	assert.Len(t, e.List(store.KindEvent), 1)
	assert.Empty(t, e.List(store.KindAgenda))
}

func TestLoadFailureIsPersistenceError(t *testing.T) {
	a := newFakeAdapter()
	a.failNext = errTimeout
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())

	err := e.Load(context.Background(), store.KindProject)
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.ErrorIs(t, err, errTimeout)
}

func TestCreateSwapsTemporaryID(t *testing.T) {
	a := newFakeAdapter()
	a.block = make(chan struct{})
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))

	done := make(chan store.Record)
	go func() {
		rec, err := e.Create(context.Background(), store.KindProject, store.Record{Payload: []byte(`{"title":"Roof"}`)})
		assert.NoError(t, err)
		done <- rec
	}()

	// The placeholder is visible before the store answers.
	require.Eventually(t, func() bool { return len(e.List(store.KindProject)) == 1 }, time.Second, time.Millisecond)
	placeholder := e.List(store.KindProject)[0]
	assert.True(t, store.IsTemporaryID(placeholder.ID))
	assert.Equal(t, "A", placeholder.OwnerID)
	assert.Equal(t, "planned", placeholder.Status)

	close(a.block)
	created := <-done

	list := e.List(store.KindProject)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
	assert.False(t, store.IsTemporaryID(created.ID))

	// The temporary ID never reached the store.
	require.Len(t, a.created, 1)
	assert.Empty(t, a.created[0].ID)
}

func TestCreateFailureRollsBack(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"))
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))
	before := e.List(store.KindProject)

	a.failNext = errTimeout
	_, err := e.Create(context.Background(), store.KindProject, store.Record{})
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.Equal(t, before, e.List(store.KindProject))
}

func TestCreateRejectsInvalidStatus(t *testing.T) {
	a := newFakeAdapter()
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	_, err := e.Create(context.Background(), store.KindEvent, store.Record{Status: "active"})
	assert.ErrorIs(t, err, store.ErrInvalidStatus)
	assert.Zero(t, a.callCount("create"))
}

func TestUpdateConfirmsCanonicalRecord(t *testing.T) {
	a := newFakeAdapter(project("p1", "A", "B"))
	e := newEngine(visibility.Actor{ID: "B"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))

	rec, err := e.Update(context.Background(), store.KindProject, "p1", store.Patch{Status: ptr("done")})
	require.NoError(t, err)
	assert.Equal(t, "done", rec.Status)

	cached, ok := e.Get(store.KindProject, "p1")
	require.True(t, ok)
	assert.Equal(t, rec, cached)
}

func TestUpdateTimeoutRestoresPreviousValue(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"), project("p2", "A"))
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))
	before, _ := e.Get(store.KindProject, "p1")
	beforeAll := e.List(store.KindProject)

	a.failNext = errTimeout
	_, err := e.Update(context.Background(), store.KindProject, "p1", store.Patch{Status: ptr("cancelled"), Visibility: &[]string{"Q"}})
	assert.ErrorIs(t, err, store.ErrPersistence)

	after, ok := e.Get(store.KindProject, "p1")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, beforeAll, e.List(store.KindProject))
}

func TestUpdateSurvivesCallerCancellation(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"))
	a.block = make(chan struct{})
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := e.Update(ctx, store.KindProject, "p1", store.Patch{Status: ptr("done")})
		done <- err
	}()
	require.Eventually(t, func() bool {
		r, _ := e.Get(store.KindProject, "p1")
		return r.Status == "done"
	}, time.Second, time.Millisecond)

	cancel()
	close(a.block)
	require.NoError(t, <-done)

	r, _ := e.Get(store.KindProject, "p1")
	assert.Equal(t, "done", r.Status)
	assert.True(t, r.UpdatedAt.After(base))
}

func TestUpdatePermissionDeniedSkipsStore(t *testing.T) {
	a := newFakeAdapter(project("p1", "A", "C"))
	e := newEngine(visibility.Actor{ID: "B"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))

	_, err := e.Update(context.Background(), store.KindProject, "p1", store.Patch{Status: ptr("done")})
	assert.ErrorIs(t, err, store.ErrPermissionDenied)
	assert.Zero(t, a.callCount("update"))
}

func TestUpdateVisibilityRequiresOwner(t *testing.T) {
	a := newFakeAdapter(project("p1", "A", "C"))
	e := newEngine(visibility.Actor{ID: "C"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))

	_, err := e.Update(context.Background(), store.KindProject, "p1", store.Patch{Visibility: &[]string{}})
	assert.ErrorIs(t, err, store.ErrPermissionDenied)

	admin := newEngine(visibility.Actor{ID: "Z", Role: visibility.RoleAdmin}, a, newFakePush())
	rec, err := admin.Update(context.Background(), store.KindProject, "p1", store.Patch{Visibility: &[]string{"C", "D"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "D"}, rec.Visibility)
}

func TestUpdateNotFoundDropsLocalEntry(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"))
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))

	a.failNext = store.ErrNotFound
	_, err := e.Update(context.Background(), store.KindProject, "p1", store.Patch{Status: ptr("done")})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, ok := e.Get(store.KindProject, "p1")
	assert.False(t, ok)
}

func TestUpdateFetchesUncachedRecord(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"))
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())

	_, err := e.Update(context.Background(), store.KindProject, "missing", store.Patch{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, err := e.Update(context.Background(), store.KindProject, "p1", store.Patch{Status: ptr("done")})
	require.NoError(t, err)
	assert.Equal(t, "done", rec.Status)
}

func TestTemporaryIDsAreRejected(t *testing.T) {
	e := newEngine(visibility.Actor{ID: "A"}, newFakeAdapter(), newFakePush())
	_, err := e.Update(context.Background(), store.KindProject, "tmp-123", store.Patch{})
	assert.ErrorIs(t, err, store.ErrTemporaryID)
	assert.ErrorIs(t, e.Delete(context.Background(), store.KindProject, "tmp-123"), store.ErrTemporaryID)
	assert.ErrorIs(t, e.SubscribeMessages(context.Background(), "tmp-123", func(store.Message) {}), store.ErrTemporaryID)
}

func TestDelete(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"), project("p2", "A"))
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))

	require.NoError(t, e.Delete(context.Background(), store.KindProject, "p1"))
	_, ok := e.Get(store.KindProject, "p1")
	assert.False(t, ok)

	before := e.List(store.KindProject)
	a.failNext = errTimeout
	err := e.Delete(context.Background(), store.KindProject, "p2")
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.Equal(t, before, e.List(store.KindProject))
}

func TestDeleteRequiresOwnerOrAdmin(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"))
	e := newEngine(visibility.Actor{ID: "B"}, a, newFakePush())
	require.NoError(t, e.Load(context.Background(), store.KindProject))

	assert.ErrorIs(t, e.Delete(context.Background(), store.KindProject, "p1"), store.ErrPermissionDenied)
	assert.Zero(t, a.callCount("delete"))
	assert.Len(t, e.List(store.KindProject), 1)
}

func TestPushEventsMerge(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"))
	p := newFakePush()
	e := newEngine(visibility.Actor{ID: "B"}, a, p)
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, store.KindProject))
	require.NoError(t, e.Subscribe(ctx, store.KindProject))
	topic := store.RecordTopic(store.KindProject)

	created := project("p2", "C")
	require.True(t, p.deliver(topic, store.Event{Type: store.EventCreated, Kind: store.KindProject, Record: created}))
	_, ok := e.Get(store.KindProject, "p2")
	assert.True(t, ok)

	// Duplicate with the same updatedAt changes nothing.
	dup := created
	dup.Status = "done"
	p.deliver(topic, store.Event{Type: store.EventUpdated, Kind: store.KindProject, Record: dup})
	got, _ := e.Get(store.KindProject, "p2")
	assert.Equal(t, "active", got.Status)

	newer := dup
	newer.UpdatedAt = base.Add(time.Minute)
	p.deliver(topic, store.Event{Type: store.EventUpdated, Kind: store.KindProject, Record: newer})
	got, _ = e.Get(store.KindProject, "p2")
	assert.Equal(t, "done", got.Status)

	// The record is narrowed to someone else: it disappears for B.
	hidden := newer
	hidden.Visibility = []string{"D"}
	hidden.UpdatedAt = base.Add(2 * time.Minute)
	p.deliver(topic, store.Event{Type: store.EventUpdated, Kind: store.KindProject, Record: hidden})
	_, ok = e.Get(store.KindProject, "p2")
	assert.False(t, ok)

	p.deliver(topic, store.Event{Type: store.EventDeleted, Kind: store.KindProject, Record: project("p1", "A")})
	assert.Empty(t, e.List(store.KindProject))
}

func TestPushEventsIgnoredForUnloadedKind(t *testing.T) {
	p := newFakePush()
	e := newEngine(visibility.Actor{ID: "A"}, newFakeAdapter(), p)
	require.NoError(t, e.Subscribe(context.Background(), store.KindAgenda))

	rec := store.Record{ID: "a1", Kind: store.KindAgenda, OwnerID: "A"}
	p.deliver(store.RecordTopic(store.KindAgenda), store.Event{Type: store.EventCreated, Kind: store.KindAgenda, Record: rec})
	assert.Empty(t, e.List(store.KindAgenda))
}

func TestReconcileIsIdempotent(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"), project("p2", "A"))
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, store.KindProject))

	require.NoError(t, e.Reconcile(ctx, store.KindProject))
	once := e.List(store.KindProject)
	require.NoError(t, e.Reconcile(ctx, store.KindProject))
	assert.Equal(t, once, e.List(store.KindProject))
}

func TestRunCompensatesMissedPush(t *testing.T) {
	a := newFakeAdapter(project("p1", "A"))
	e := newEngine(visibility.Actor{ID: "A"}, a, newFakePush())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Load(ctx, store.KindProject))

	// Another session writes straight to the store; no push arrives.
	a.mu.Lock()
	a.records[store.KindProject] = append(a.records[store.KindProject], project("p9", "B"))
	a.mu.Unlock()

	done := make(chan error)
	go func() { done <- e.Run(ctx) }()
	require.Eventually(t, func() bool { return len(e.List(store.KindProject)) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestSubscriptionsAndClose(t *testing.T) {
	p := newFakePush()
	e := newEngine(visibility.Actor{ID: "A"}, newFakeAdapter(), p)
	ctx := context.Background()

	var got []store.Notification
	require.NoError(t, e.Subscribe(ctx, store.KindProject))
	require.NoError(t, e.Subscribe(ctx, store.KindProject))
	require.NoError(t, e.SubscribeMessages(ctx, "p1", func(store.Message) {}))
	require.NoError(t, e.SubscribeNotifications(ctx, func(n store.Notification) { got = append(got, n) }))
	assert.ElementsMatch(t, []string{"record:project", "parent:p1:messages", "actor:A:notifications"}, p.topics())

	p.deliver("actor:A:notifications", store.Notification{ID: "n1", RecipientID: "A"})
	p.deliver("actor:A:notifications", store.Notification{ID: "n2", RecipientID: "B"})
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].ID)

	e.Unsubscribe("parent:p1:messages")
	assert.Len(t, p.topics(), 2)
	e.Close()
	assert.Empty(t, p.topics())
}

func TestSubscribeFailure(t *testing.T) {
	p := newFakePush()
	p.failWith = errTimeout
	e := newEngine(visibility.Actor{ID: "A"}, newFakeAdapter(), p)
	assert.ErrorIs(t, e.Subscribe(context.Background(), store.KindProject), errTimeout)
}
