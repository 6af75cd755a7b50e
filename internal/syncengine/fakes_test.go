package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"agendahub/store"
)

var errTimeout = errors.New("i/o timeout")

// fakeAdapter is an in-memory durable store with injectable failures.
type fakeAdapter struct {
	mu      sync.Mutex
	records map[store.Kind][]store.Record
	seq     int
	clock   time.Time

	failNext error
	calls    []string
	created  []store.Record
	block    chan struct{}
}

func newFakeAdapter(seed ...store.Record) *fakeAdapter {
	a := &fakeAdapter{
		records: make(map[store.Kind][]store.Record),
		clock:   time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	for _, r := range seed {
		a.records[r.Kind] = append(a.records[r.Kind], r)
	}
	return a
}

func (a *fakeAdapter) tick() time.Time {
	a.clock = a.clock.Add(time.Second)
	return a.clock
}

func (a *fakeAdapter) takeFailure(call string) error {
	a.calls = append(a.calls, call)
	err := a.failNext
	a.failNext = nil
	return err
}

func (a *fakeAdapter) wait(ctx context.Context) error {
	if a.block == nil {
		return nil
	}
	select {
	case <-a.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *fakeAdapter) List(_ context.Context, kind store.Kind, _ store.Filter) ([]store.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("list"); err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(a.records[kind]))
	for _, r := range a.records[kind] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (a *fakeAdapter) Get(_ context.Context, kind store.Kind, id string) (store.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("get"); err != nil {
		return store.Record{}, err
	}
	for _, r := range a.records[kind] {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return store.Record{}, store.ErrNotFound
}

func (a *fakeAdapter) Create(ctx context.Context, kind store.Kind, draft store.Record) (store.Record, error) {
	if err := a.wait(ctx); err != nil {
		return store.Record{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("create"); err != nil {
		return store.Record{}, err
	}
	a.created = append(a.created, draft.Clone())
	a.seq++
	rec := draft.Clone()
	rec.ID = fmt.Sprintf("%s-%d", kind, a.seq)
	rec.CreatedAt = a.tick()
	rec.UpdatedAt = rec.CreatedAt
	a.records[kind] = append(a.records[kind], rec)
	return rec.Clone(), nil
}

func (a *fakeAdapter) Update(ctx context.Context, kind store.Kind, id string, patch store.Patch) (store.Record, error) {
	if err := a.wait(ctx); err != nil {
		return store.Record{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("update"); err != nil {
		return store.Record{}, err
	}
	for i, r := range a.records[kind] {
		if r.ID == id {
			next := patch.Apply(r)
			next.UpdatedAt = a.tick()
			a.records[kind][i] = next
			return next.Clone(), nil
		}
	}
	return store.Record{}, store.ErrNotFound
}

func (a *fakeAdapter) Delete(_ context.Context, kind store.Kind, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("delete"); err != nil {
		return err
	}
	for i, r := range a.records[kind] {
		if r.ID == id {
			a.records[kind] = append(a.records[kind][:i], a.records[kind][i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (a *fakeAdapter) callCount(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == name {
			n++
		}
	}
	return n
}

// fakePush records subscriptions and lets tests deliver frames.
type fakePush struct {
	mu       sync.Mutex
	handlers map[string]Handler
	failWith error
}

func newFakePush() *fakePush {
	return &fakePush{handlers: make(map[string]Handler)}
}

func (p *fakePush) Subscribe(_ context.Context, topic string, h Handler) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return nil, p.failWith
	}
	p.handlers[topic] = h
	return func() {
		p.mu.Lock()
		delete(p.handlers, topic)
		p.mu.Unlock()
	}, nil
}

func (p *fakePush) deliver(topic string, v any) bool {
	p.mu.Lock()
	h, ok := p.handlers[topic]
	p.mu.Unlock()
	if !ok {
		return false
	}
	payload, _ := json.Marshal(v)
	h(payload)
	return true
}

func (p *fakePush) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		out = append(out, t)
	}
	return out
}
