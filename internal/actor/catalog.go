// Package actor provides the actor catalog: the lookup service that turns an
// actor ID into a role and a display name.
//
// The catalog is passed explicitly to whoever needs it. Each holder takes a
// reference with Acquire and gives it back with Release; the cached entries
// are dropped once the last reference is released. Entries load once on first
// use and stay until Invalidate is called.
package actor

import (
	"context"
	"sync"

	"agendahub/pkg/logger"
)

type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Loader fetches the full actor list from the durable store.
type Loader interface {
	LoadActors(ctx context.Context) ([]Profile, error)
}

type Catalog struct {
	mu     sync.Mutex
	loader Loader
	refs   int
	loaded bool
	byID   map[string]Profile
}

func NewCatalog(loader Loader) *Catalog {
	return &Catalog{loader: loader}
}

// Acquire registers a holder and returns the catalog for chaining.
func (c *Catalog) Acquire() *Catalog {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
	return c
}

// Release drops a holder. The last release clears the cache.
func (c *Catalog) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return
	}
	c.refs--
	if c.refs == 0 {
		c.clear()
	}
}

// Refs reports the number of live holders.
func (c *Catalog) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

// Invalidate forces the next lookup to reload from the store.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.clear()
	c.mu.Unlock()
}

func (c *Catalog) clear() {
	c.loaded = false
	c.byID = nil
}

func (c *Catalog) ensure(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	profiles, err := c.loader.LoadActors(ctx)
	if err != nil {
		return err
	}
	c.byID = make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		c.byID[p.ID] = p
	}
	c.loaded = true
	logger.Sugar.Infof("Actor catalog loaded: %d actors", len(profiles))
	return nil
}

// Lookup returns the profile for id, loading the catalog if needed.
func (c *Catalog) Lookup(ctx context.Context, id string) (Profile, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(ctx); err != nil {
		return Profile{}, false, err
	}
	p, ok := c.byID[id]
	return p, ok, nil
}

// Role returns the actor's role, or "" when unknown or the catalog cannot load.
func (c *Catalog) Role(ctx context.Context, id string) string {
	p, ok, err := c.Lookup(ctx, id)
	if err != nil {
		logger.Sugar.Warnf("Actor catalog unavailable resolving role of %s: %v", id, err)
		return ""
	}
	if !ok {
		return ""
	}
	return p.Role
}

// DisplayName renders id for humans: name, then email, then the raw ID.
func (c *Catalog) DisplayName(ctx context.Context, id string) string {
	p, ok, err := c.Lookup(ctx, id)
	if err != nil || !ok {
		return id
	}
	if p.Name != "" {
		return p.Name
	}
	if p.Email != "" {
		return p.Email
	}
	return id
}
