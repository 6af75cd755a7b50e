// Package syncengine keeps a session's record cache consistent with the
// durable store.
//
// Local mutations are applied to the cache first, then persisted, then either
// confirmed with the store's canonical record or rolled back to the snapshot
// taken before the change. Remote changes arrive two ways: push events on the
// record topics and a fixed-interval reconciliation pull. Both feed the cache
// through idempotent writes, so overlap between them is harmless.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"agendahub/internal/recordstore"
	"agendahub/internal/visibility"
	"agendahub/pkg/logger"
	"agendahub/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Adapter is the durable store as seen by a client session.
type Adapter interface {
	List(ctx context.Context, kind store.Kind, filter store.Filter) ([]store.Record, error)
	Get(ctx context.Context, kind store.Kind, id string) (store.Record, error)
	Create(ctx context.Context, kind store.Kind, draft store.Record) (store.Record, error)
	Update(ctx context.Context, kind store.Kind, id string, patch store.Patch) (store.Record, error)
	Delete(ctx context.Context, kind store.Kind, id string) error
}

// Handler receives the payload of one push frame.
type Handler func(payload []byte)

// PushChannel is a topic-addressed subscription surface. Handlers for one
// topic are invoked sequentially in delivery order.
type PushChannel interface {
	Subscribe(ctx context.Context, topic string, h Handler) (cancel func(), err error)
}

type Config struct {
	// ReconcileInterval is the period of the fallback pull in Run.
	ReconcileInterval time.Duration
	// MutationTimeout bounds a single durable-store write. Writes are not
	// cancelled when the caller's context is.
	MutationTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{ReconcileInterval: 30 * time.Second, MutationTimeout: 15 * time.Second}
}

type Engine struct {
	actor    visibility.Actor
	resolver *visibility.Resolver
	adapter  Adapter
	push     PushChannel
	records  *recordstore.Store
	cfg      Config
	now      func() time.Time

	// mutMu serializes mutations and bulk loads so they reach the cache in
	// call order and a rollback never undoes a later mutation.
	mutMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]func()
}

func New(actor visibility.Actor, resolver *visibility.Resolver, adapter Adapter, push PushChannel, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = def.MutationTimeout
	}
	return &Engine{
		actor:    actor,
		resolver: resolver,
		adapter:  adapter,
		push:     push,
		records:  recordstore.New(),
		cfg:      cfg,
		now:      time.Now,
		subs:     make(map[string]func()),
	}
}

func (e *Engine) Actor() visibility.Actor { return e.actor }

// List returns the cached collection for kind.
func (e *Engine) List(kind store.Kind) []store.Record {
	return e.records.All(kind)
}

func (e *Engine) Get(kind store.Kind, id string) (store.Record, bool) {
	return e.records.Get(kind, id)
}

// Load pulls kind from the durable store, keeps what the actor may see and
// replaces the cached collection with it.
func (e *Engine) Load(ctx context.Context, kind store.Kind) error {
	e.mutMu.Lock()
	defer e.mutMu.Unlock()
	return e.pull(ctx, kind)
}

// LoadAll loads several kinds concurrently.
func (e *Engine) LoadAll(ctx context.Context, kinds ...store.Kind) error {
	g, gctx := errgroup.WithContext(ctx)
	results := make([][]store.Record, len(kinds))
	for i, kind := range kinds {
		g.Go(func() error {
			recs, err := e.adapter.List(gctx, kind, store.Filter{})
			if err != nil {
				return fmt.Errorf("load %s: %w", kind, e.classify(err))
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mutMu.Lock()
	defer e.mutMu.Unlock()
	for i, kind := range kinds {
		e.records.ReplaceAll(kind, e.resolver.Filter(e.actor, results[i]))
	}
	return nil
}

// Reconcile re-fetches a loaded kind and replaces the cache with it. It is
// the fallback for push events that never arrived; replaying the same server
// state is a no-op.
func (e *Engine) Reconcile(ctx context.Context, kind store.Kind) error {
	e.mutMu.Lock()
	defer e.mutMu.Unlock()
	return e.pull(ctx, kind)
}

func (e *Engine) pull(ctx context.Context, kind store.Kind) error {
	recs, err := e.adapter.List(ctx, kind, store.Filter{})
	if err != nil {
		return fmt.Errorf("load %s: %w", kind, e.classify(err))
	}
	e.records.ReplaceAll(kind, e.resolver.Filter(e.actor, recs))
	return nil
}

// Run reconciles every loaded kind each ReconcileInterval until ctx ends.
// Failures are logged and retried on the next tick. Mutations are serialized
// with reconciliation, so a tick waits behind an in-flight mutation for up to
// MutationTimeout.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.reconcileLoaded(ctx)
		}
	}
}

func (e *Engine) reconcileLoaded(ctx context.Context) {
	for _, kind := range e.records.LoadedKinds() {
		if err := e.Reconcile(ctx, kind); err != nil {
			logger.Sugar.Warnf("Reconciliation of %s failed: %v", kind, err)
		}
	}
}

// Create applies draft locally under a temporary ID, persists it and swaps
// the placeholder for the durable record.
func (e *Engine) Create(ctx context.Context, kind store.Kind, draft store.Record) (store.Record, error) {
	draft = draft.Clone()
	draft.Kind = kind
	draft.OwnerID = e.actor.ID
	if draft.Status == "" {
		draft.Status = store.DefaultStatus(kind)
	}
	if !store.ValidStatus(kind, draft.Status) {
		return store.Record{}, fmt.Errorf("%w: %q for %s", store.ErrInvalidStatus, draft.Status, kind)
	}

	e.mutMu.Lock()
	defer e.mutMu.Unlock()

	tempID := store.TempIDPrefix + uuid.NewString()
	placeholder := draft.Clone()
	placeholder.ID = tempID
	placeholder.CreatedAt = e.now()
	placeholder.UpdatedAt = placeholder.CreatedAt

	snap := e.records.Snapshot(kind)
	e.records.Upsert(kind, placeholder)

	draft.ID = ""
	pctx, cancel := e.persistContext(ctx)
	defer cancel()
	created, err := e.adapter.Create(pctx, kind, draft)
	if err != nil {
		e.records.Restore(snap)
		logger.Sugar.Warnf("Create %s rolled back: %v", kind, err)
		return store.Record{}, fmt.Errorf("create %s: %w", kind, e.classify(err))
	}

	e.records.Swap(kind, tempID, created)
	return created.Clone(), nil
}

// Update applies patch locally, persists it and confirms with the store's
// canonical record, or restores the previous collection on failure.
func (e *Engine) Update(ctx context.Context, kind store.Kind, id string, patch store.Patch) (store.Record, error) {
	if store.IsTemporaryID(id) {
		return store.Record{}, store.ErrTemporaryID
	}
	if patch.Status != nil && !store.ValidStatus(kind, *patch.Status) {
		return store.Record{}, fmt.Errorf("%w: %q for %s", store.ErrInvalidStatus, *patch.Status, kind)
	}

	e.mutMu.Lock()
	defer e.mutMu.Unlock()

	cur, err := e.current(ctx, kind, id)
	if err != nil {
		return store.Record{}, err
	}
	if !e.resolver.CanMutate(e.actor, cur) {
		return store.Record{}, store.ErrPermissionDenied
	}
	if patch.Visibility != nil && !e.resolver.CanManage(e.actor, cur) {
		return store.Record{}, fmt.Errorf("%w: only the owner or an admin may change visibility", store.ErrPermissionDenied)
	}

	snap := e.records.Snapshot(kind)
	optimistic := patch.Apply(cur)
	optimistic.UpdatedAt = e.now()
	e.records.Upsert(kind, optimistic)

	pctx, cancel := e.persistContext(ctx)
	defer cancel()
	confirmed, err := e.adapter.Update(pctx, kind, id, patch)
	if err != nil {
		e.records.Restore(snap)
		if errors.Is(err, store.ErrNotFound) {
			e.records.Remove(kind, id)
			return store.Record{}, store.ErrNotFound
		}
		logger.Sugar.Warnf("Update %s %s rolled back: %v", kind, id, err)
		return store.Record{}, fmt.Errorf("update %s %s: %w", kind, id, e.classify(err))
	}

	e.confirm(kind, confirmed)
	return confirmed.Clone(), nil
}

// Delete removes the record locally, then from the durable store.
func (e *Engine) Delete(ctx context.Context, kind store.Kind, id string) error {
	if store.IsTemporaryID(id) {
		return store.ErrTemporaryID
	}

	e.mutMu.Lock()
	defer e.mutMu.Unlock()

	cur, err := e.current(ctx, kind, id)
	if err != nil {
		return err
	}
	if !e.resolver.CanManage(e.actor, cur) {
		return store.ErrPermissionDenied
	}

	snap := e.records.Snapshot(kind)
	e.records.Remove(kind, id)

	pctx, cancel := e.persistContext(ctx)
	defer cancel()
	if err := e.adapter.Delete(pctx, kind, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Already gone on the server; the local removal stands.
			return store.ErrNotFound
		}
		e.records.Restore(snap)
		logger.Sugar.Warnf("Delete %s %s rolled back: %v", kind, id, err)
		return fmt.Errorf("delete %s %s: %w", kind, id, e.classify(err))
	}
	return nil
}

// current returns the cached record, falling back to the durable store.
func (e *Engine) current(ctx context.Context, kind store.Kind, id string) (store.Record, error) {
	if rec, ok := e.records.Get(kind, id); ok {
		return rec, nil
	}
	rec, err := e.adapter.Get(ctx, kind, id)
	if err != nil {
		return store.Record{}, e.classify(err)
	}
	return rec, nil
}

func (e *Engine) confirm(kind store.Kind, rec store.Record) {
	if !e.resolver.CanView(e.actor, rec) {
		e.records.Remove(kind, rec.ID)
		return
	}
	e.records.Upsert(kind, rec)
}

func (e *Engine) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.MutationTimeout)
}

// classify maps adapter errors onto the engine's taxonomy: not-found and
// permission errors pass through, everything else is a persistence failure.
func (e *Engine) classify(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrPermissionDenied),
		errors.Is(err, store.ErrPersistence),
		errors.Is(err, store.ErrInvalidStatus),
		errors.Is(err, store.ErrUnknownKind):
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrPersistence, err)
}

// Subscribe starts merging push events for kind into the cache. Subscribing
// twice to the same kind is a no-op.
func (e *Engine) Subscribe(ctx context.Context, kind store.Kind) error {
	return e.subscribe(ctx, store.RecordTopic(kind), func(payload []byte) {
		var ev store.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			logger.Sugar.Errorf("Malformed record event on %s: %v", kind, err)
			return
		}
		e.applyEvent(kind, ev)
	})
}

// applyEvent merges a remote change. Events for collections that were never
// loaded are dropped; the next Load pulls them anyway.
func (e *Engine) applyEvent(kind store.Kind, ev store.Event) {
	if ev.Kind != kind || !e.records.Loaded(kind) {
		return
	}
	if ev.Record.ID == "" || store.IsTemporaryID(ev.Record.ID) {
		return
	}
	switch ev.Type {
	case store.EventCreated, store.EventUpdated:
		if !e.resolver.CanView(e.actor, ev.Record) {
			e.records.Remove(kind, ev.Record.ID)
			return
		}
		e.records.Merge(kind, ev.Record)
	case store.EventDeleted:
		e.records.Remove(kind, ev.Record.ID)
	default:
		logger.Sugar.Warnf("Unknown record event type %q on %s", ev.Type, kind)
	}
}

// SubscribeMessages delivers message appends for one parent record.
func (e *Engine) SubscribeMessages(ctx context.Context, parentID string, fn func(store.Message)) error {
	if parentID == "" || store.IsTemporaryID(parentID) {
		return store.ErrTemporaryID
	}
	return e.subscribe(ctx, store.MessagesTopic(parentID), func(payload []byte) {
		var m store.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			logger.Sugar.Errorf("Malformed message on parent %s: %v", parentID, err)
			return
		}
		fn(m)
	})
}

// SubscribeNotifications delivers notifications addressed to the session's actor.
func (e *Engine) SubscribeNotifications(ctx context.Context, fn func(store.Notification)) error {
	return e.subscribe(ctx, store.NotificationsTopic(e.actor.ID), func(payload []byte) {
		var n store.Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			logger.Sugar.Errorf("Malformed notification: %v", err)
			return
		}
		if n.RecipientID != e.actor.ID {
			return
		}
		fn(n)
	})
}

func (e *Engine) subscribe(ctx context.Context, topic string, h Handler) error {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if _, ok := e.subs[topic]; ok {
		return nil
	}
	cancel, err := e.push.Subscribe(ctx, topic, h)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	e.subs[topic] = cancel
	return nil
}

// Unsubscribe tears down one topic subscription.
func (e *Engine) Unsubscribe(topic string) {
	e.subMu.Lock()
	cancel, ok := e.subs[topic]
	delete(e.subs, topic)
	e.subMu.Unlock()
	if ok {
		cancel()
	}
}

// Close ends every subscription. Mutations already in flight still finish
// and still confirm or roll back.
func (e *Engine) Close() {
	e.subMu.Lock()
	subs := e.subs
	e.subs = make(map[string]func())
	e.subMu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}
