// Package cache keeps document metadata between provider calls.
//
// The cache is an arena of canonical *document.Metadata keyed by identifier.
// A parent refers to its children by identifier only, and Put keeps the
// parent's child list in step with what is inserted, so a child fetched on
// its own becomes visible through an already-listed parent.
//
// Cache Strategy:
//   - TTL-based freshness (default: 60 seconds); expired entries are still
//     returned so callers can serve stale data while refreshing
//   - Entities are updated in place, never replaced
//   - A sticky error per identifier, consumed by the first reader
//   - Subscribers are told which listing changed
package cache

import (
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittosmb/internal/clock"
	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/document"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// DefaultTTL is how long an entity stays fresh after its last refresh.
const DefaultTTL = time.Minute

// State is the outcome of a lookup.
type State int

const (
	Miss State = iota
	Hit
	Expired
)

func (s State) String() string {
	switch s {
	case Hit:
		return "hit"
	case Expired:
		return "expired"
	default:
		return "miss"
	}
}

// Result is returned by Get. Item is nil on a Miss.
type Result struct {
	State State
	Item  *document.Metadata
}

// Cache maps identifiers to metadata and sticky errors.
//
// Thread Safety:
// All operations are protected by an RWMutex; callers never lock. Entity
// locks are always taken after the cache lock, never before.
type Cache struct {
	mu     sync.RWMutex
	items  map[smburi.ID]*document.Metadata
	errors map[smburi.ID]error

	ttl     time.Duration
	clock   clock.Clock
	metrics Metrics

	subMu sync.RWMutex
	subs  []func(smburi.ID)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		items:   make(map[smburi.ID]*document.Metadata),
		errors:  make(map[smburi.ID]error),
		ttl:     DefaultTTL,
		clock:   clock.Real(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	logger.Debug("Document cache created: ttl=%v", c.ttl)
	return c
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get looks up id. An entity is a Hit while its age is below the TTL and
// Expired from then on.
func (c *Cache) Get(id smburi.ID) Result {
	c.mu.RLock()
	item, ok := c.items[id]
	c.mu.RUnlock()

	res := Result{State: Miss}
	if ok {
		res.Item = item
		if c.clock.Now().Sub(item.Timestamp()) < c.ttl {
			res.State = Hit
		} else {
			res.State = Expired
		}
	}
	c.metrics.RecordLookup(res.State.String())
	return res
}

// Put inserts m. When an entity is already cached under the same id it is
// updated in place from m and stays canonical. The canonical entity is
// returned; callers should keep using it instead of m.
//
// If the structural parent is cached with loaded children, the id is linked
// into the parent and subscribers are notified for the parent.
func (c *Cache) Put(m *document.Metadata) *document.Metadata {
	id := m.ID()
	parent, hasParent := parentOf(id)

	c.mu.Lock()
	canonical := m
	if existing, ok := c.items[id]; ok {
		existing.Merge(m)
		canonical = existing
	} else {
		c.items[id] = m
	}
	linked := false
	if hasParent {
		if p, ok := c.items[parent]; ok {
			linked = p.LinkChild(id)
		}
	}
	n := len(c.items)
	c.mu.Unlock()

	c.metrics.RecordEntries(n)
	if linked {
		c.Notify(parent)
	}
	return canonical
}

// PutError records a sticky error for id, independent of metadata.
func (c *Cache) PutError(id smburi.ID, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.errors[id] = err
	c.mu.Unlock()
	c.metrics.RecordStickyError("stored")
}

// TakeError returns and clears the sticky error for id.
func (c *Cache) TakeError(id smburi.ID) error {
	c.mu.Lock()
	err, ok := c.errors[id]
	delete(c.errors, id)
	c.mu.Unlock()

	if ok {
		c.metrics.RecordStickyError("taken")
	}
	return err
}

// Remove drops the metadata and sticky error for id and unlinks it from the
// cached parent.
func (c *Cache) Remove(id smburi.ID) {
	parent, hasParent := parentOf(id)

	c.mu.Lock()
	delete(c.items, id)
	delete(c.errors, id)
	unlinked := false
	if hasParent {
		if p, ok := c.items[parent]; ok {
			unlinked = p.UnlinkChild(id)
		}
	}
	n := len(c.items)
	c.mu.Unlock()

	c.metrics.RecordEntries(n)
	if unlinked {
		c.Notify(parent)
	}
}

// RemoveTree is Remove for id and every cached descendant.
func (c *Cache) RemoveTree(id smburi.ID) {
	c.mu.Lock()
	c.dropDescendantsLocked(id)
	c.mu.Unlock()
	c.Remove(id)
}

// Rename moves the entity cached under oldID to newID. Descendants of oldID
// are dropped and the entity forgets its children, since they were listed
// under the old path. The entity is unlinked from the old parent and linked
// into the new one in the same critical section, so readers find it under
// one of the two ids at any time. Subscribers are notified once the move is
// complete. It reports whether an entity was moved.
func (c *Cache) Rename(oldID, newID smburi.ID) bool {
	oldParent, hasOldParent := parentOf(oldID)
	newParent, hasNewParent := parentOf(newID)

	var changed []smburi.ID

	c.mu.Lock()
	item, ok := c.items[oldID]
	c.dropDescendantsLocked(oldID)
	delete(c.items, oldID)
	delete(c.errors, oldID)
	if hasOldParent {
		if p, cached := c.items[oldParent]; cached && p.UnlinkChild(oldID) {
			changed = append(changed, oldParent)
		}
	}
	if ok {
		c.dropDescendantsLocked(newID)
		delete(c.errors, newID)
		item.Rename(newID)
		item.ForgetChildren()
		c.items[newID] = item
		if hasNewParent {
			if p, cached := c.items[newParent]; cached && p.LinkChild(newID) && !slices.Contains(changed, newParent) {
				changed = append(changed, newParent)
			}
		}
	}
	n := len(c.items)
	c.mu.Unlock()

	c.metrics.RecordEntries(n)
	for _, id := range changed {
		c.Notify(id)
	}
	if !ok {
		return false
	}
	logger.Debug("Cache entry moved: %s -> %s", oldID, newID)
	return true
}

func (c *Cache) dropDescendantsLocked(id smburi.ID) {
	for k := range c.items {
		if id.IsAncestorOf(k) {
			delete(c.items, k)
			delete(c.errors, k)
		}
	}
}

// Children resolves the child identifiers of parent through the arena. ok is
// false when parent is not cached or its children were never loaded.
func (c *Cache) Children(parent smburi.ID) (children []*document.Metadata, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, cached := c.items[parent]
	if !cached {
		return nil, false
	}
	ids, loaded := p.ChildIDs()
	if !loaded {
		return nil, false
	}
	children = make([]*document.Metadata, 0, len(ids))
	for _, id := range ids {
		if child, ok := c.items[id]; ok {
			children = append(children, child)
		} else {
			logger.Warn("Child %s of %s is linked but not cached", id, parent)
		}
	}
	return children, true
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Subscribe registers fn to be called with the id of a listing whose content
// changed. fn runs on the goroutine that made the change and must not block.
func (c *Cache) Subscribe(fn func(smburi.ID)) {
	c.subMu.Lock()
	c.subs = append(c.subs, fn)
	c.subMu.Unlock()
}

// Notify tells subscribers that the listing of id changed.
func (c *Cache) Notify(id smburi.ID) {
	c.subMu.RLock()
	subs := c.subs
	c.subMu.RUnlock()

	for _, fn := range subs {
		fn(id)
	}
}

func parentOf(id smburi.ID) (smburi.ID, bool) {
	p, err := id.Parent()
	return p, err == nil
}
