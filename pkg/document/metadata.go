// Package document holds the in-memory snapshot of a remote resource.
//
// A Metadata is created the first time a resource is observed, either in a
// parent listing or through a direct stat, and is then updated in place for
// the rest of its life in the cache. Children are kept as identifiers; the
// cache resolves them.
//
// Failed refreshes are remembered per operation. An I/O failure while
// listing children or reading attributes is stored in a one-shot slot that
// the next reader consumes, without throwing away what was known before.
package document

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittosmb/internal/clock"
	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/facade"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

const (
	// MimeTypeDir is reported for every container kind.
	MimeTypeDir = "vnd.android.document/directory"

	// MimeTypeGeneric is reported for files with no known extension.
	MimeTypeGeneric = "application/octet-stream"
)

// ErrUnsupportedKind is returned for entry kinds the provider does not
// surface (links, printer, comms and IPC shares).
var ErrUnsupportedKind = errors.New("document: unsupported entry kind")

// Metadata is the cached view of one remote resource.
//
// Thread safety:
// All methods are safe for concurrent use.
type Metadata struct {
	mu        sync.RWMutex
	id        smburi.ID
	entry     native.DirEntry
	stat      *native.Stat
	statStale bool
	children  []smburi.ID
	timestamp time.Time
	childErr  error
	statErr   error
	clock     clock.Clock
}

// Option configures a new Metadata.
type Option func(*Metadata)

// WithClock sets the time source for timestamps. Entities created by
// LoadChildren inherit it.
func WithClock(c clock.Clock) Option {
	return func(m *Metadata) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithChildren marks the children as loaded with ids. Without arguments it
// records a known empty listing, as for a directory that was just created.
func WithChildren(ids ...smburi.ID) Option {
	return func(m *Metadata) {
		m.children = append(make([]smburi.ID, 0, len(ids)), ids...)
	}
}

// New creates an entity for id described by entry. Attributes carried by
// the entry become the entity's stat.
func New(id smburi.ID, entry native.DirEntry, opts ...Option) *Metadata {
	m := &Metadata{id: id, entry: entry, clock: clock.Real()}
	if entry.Stat != nil {
		st := *entry.Stat
		m.stat = &st
		m.entry.Stat = nil
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timestamp = m.clock.Now()
	return m
}

// NewShare creates a synthetic file share entity.
func NewShare(id smburi.ID, opts ...Option) *Metadata {
	return New(id, native.DirEntry{Kind: native.KindFileShare, Name: id.Name()}, opts...)
}

// NewServer creates a synthetic server entity.
func NewServer(id smburi.ID, opts ...Option) *Metadata {
	return New(id, native.DirEntry{Kind: native.KindServer, Name: id.Host()}, opts...)
}

// FromID stats id directly and builds a directory or file entity from the
// result. Only paths inside a share can be stat'ed; anything else is a
// logic error.
func FromID(ctx context.Context, client *facade.Client, id smburi.ID, opts ...Option) (*Metadata, error) {
	if !id.InShare() {
		return nil, native.NewError(native.ErrNotSupported, "stat", id,
			errors.New("cannot load metadata for the network root or a server"))
	}

	st, err := client.Stat(ctx, id)
	if err != nil {
		return nil, err
	}

	kind := native.KindFile
	switch {
	case id.IsShare():
		kind = native.KindFileShare
	case st.IsDir:
		kind = native.KindDir
	}

	m := New(id, native.DirEntry{Kind: kind, Name: id.Name()}, opts...)
	m.stat = &st
	return m, nil
}

func (m *Metadata) ID() smburi.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

func (m *Metadata) Kind() native.EntryKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entry.Kind
}

func (m *Metadata) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entry.Name
}

func (m *Metadata) Comment() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entry.Comment
}

// Stat returns the attribute block, if loaded.
func (m *Metadata) Stat() (native.Stat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stat == nil {
		return native.Stat{}, false
	}
	return *m.stat, true
}

func (m *Metadata) Size() (int64, bool) {
	st, ok := m.Stat()
	return st.Size, ok
}

func (m *Metadata) ModTime() (time.Time, bool) {
	st, ok := m.Stat()
	return st.ModTime, ok
}

// ChildIDs returns a copy of the child identifiers in listing order. ok is
// false until children have been loaded once.
func (m *Metadata) ChildIDs() (ids []smburi.ID, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.children == nil {
		return nil, false
	}
	return append(make([]smburi.ID, 0, len(m.children)), m.children...), true
}

// HasChildren reports whether children have been loaded.
func (m *Metadata) HasChildren() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.children != nil
}

// Timestamp is the time of the last successful refresh.
func (m *Metadata) Timestamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timestamp
}

// IsDirectoryLike reports whether the entity can be listed.
func (m *Metadata) IsDirectoryLike() bool {
	switch m.Kind() {
	case native.KindWorkgroup, native.KindServer, native.KindFileShare, native.KindDir:
		return true
	}
	return false
}

// CanCreateChildren reports whether files and directories can be created
// inside the entity.
func (m *Metadata) CanCreateChildren() bool {
	switch m.Kind() {
	case native.KindFileShare, native.KindDir:
		return true
	}
	return false
}

// NeedsStat reports whether attributes are missing or were kept from before
// the last listing. Only files carry attributes worth fetching.
func (m *Metadata) NeedsStat() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entry.Kind == native.KindFile && (m.stat == nil || m.statStale)
}

// MimeType derives the content type from the entry kind and file extension.
func (m *Metadata) MimeType() (string, error) {
	m.mu.RLock()
	kind, name := m.entry.Kind, m.entry.Name
	m.mu.RUnlock()

	switch kind {
	case native.KindWorkgroup, native.KindServer, native.KindFileShare, native.KindDir:
		return MimeTypeDir, nil
	case native.KindFile:
		return mimeFromName(name), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

func mimeFromName(name string) string {
	ext := path.Ext(name)
	if ext == "" || ext == name {
		return MimeTypeGeneric
	}
	t := mime.TypeByExtension(strings.ToLower(ext))
	if t == "" {
		return MimeTypeGeneric
	}
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

// Reset forgets stat and children so both are reloaded.
func (m *Metadata) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stat = nil
	m.statStale = false
	m.children = nil
}

// ForgetChildren drops loaded children but keeps stat.
func (m *Metadata) ForgetChildren() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children = nil
}

// Rename points the entity at newID.
func (m *Metadata) Rename(newID smburi.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = newID
	m.entry.Name = newID.Name()
}

// LinkChild appends id to the children if they are loaded and id is not
// already present. It reports whether the list changed.
func (m *Metadata) LinkChild(id smburi.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.children == nil {
		return false
	}
	for _, c := range m.children {
		if c == id {
			return false
		}
	}
	m.children = append(m.children, id)
	return true
}

// UnlinkChild removes id from the children. It reports whether the list
// changed.
func (m *Metadata) UnlinkChild(id smburi.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.children {
		if c == id {
			m.children = append(m.children[:i:i], m.children[i+1:]...)
			return true
		}
	}
	return false
}

// Merge updates m in place from a newer observation of the same resource.
//
// The entry always comes from fresh, and so does the stat when fresh has one.
// A fresh copy without stat, as built from a plain listing, leaves the old
// stat readable but marks it for reloading. Children come from fresh when it
// has them; otherwise m keeps its own children and their timestamp. A kind
// change drops both. Pending error slots are kept.
func (m *Metadata) Merge(fresh *Metadata) {
	if fresh == m {
		return
	}
	fresh.mu.RLock()
	entry, stat, children, ts := fresh.entry, fresh.stat, fresh.children, fresh.timestamp
	fresh.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	kindChanged := m.entry.Kind != entry.Kind
	m.entry = entry
	switch {
	case stat != nil:
		s := *stat
		m.stat = &s
		m.statStale = false
	case kindChanged:
		m.stat = nil
		m.statStale = false
	case m.stat != nil:
		m.statStale = true
	}

	switch {
	case children != nil:
		m.children = append(make([]smburi.ID, 0, len(children)), children...)
		m.timestamp = ts
	case kindChanged || m.children == nil:
		m.children = nil
		m.timestamp = ts
	}
}

func (m *Metadata) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("Metadata{id=%s kind=%s stat=%t children=%d ts=%s}",
		m.id, m.entry.Kind, m.stat != nil, len(m.children), m.timestamp.Format(time.RFC3339))
}

// ============================================================================
// Loading
// ============================================================================

// LoadChildren lists the entity and replaces its children with what was
// observed. The returned entities are new. When admit is not nil it receives
// them before the child list is swapped, so that a cache can hold every child
// by the time the parent refers to it.
//
// On failure the previous children are kept. I/O failures are also stored in
// the child error slot; logic failures are only returned.
func (m *Metadata) LoadChildren(ctx context.Context, client *facade.Client, admit func([]*Metadata)) ([]*Metadata, error) {
	id := m.ID()

	dir, err := client.OpenDir(ctx, id)
	if err != nil {
		logger.Debug("Failed to open %s for listing: %v", id, err)
		return nil, m.recordChildErr(err)
	}
	defer func() {
		if cerr := dir.Close(ctx); cerr != nil {
			logger.Debug("Failed to close listing of %s: %v", id, cerr)
		}
	}()

	var (
		ids  []smburi.ID
		kids []*Metadata
		seen = make(map[smburi.ID]struct{})
	)
	for {
		e, err := dir.ReadDir(ctx)
		if err != nil {
			logger.Debug("Failed to list %s: %v", id, err)
			return nil, m.recordChildErr(err)
		}
		if e == nil {
			break
		}
		childID, ok := ChildID(id, *e)
		if !ok {
			continue
		}
		if _, dup := seen[childID]; dup {
			continue
		}
		seen[childID] = struct{}{}
		ids = append(ids, childID)
		kids = append(kids, New(childID, *e, WithClock(m.clock)))
	}
	if ids == nil {
		ids = []smburi.ID{}
	}
	if admit != nil {
		admit(kids)
	}

	m.mu.Lock()
	m.children = ids
	m.timestamp = m.clock.Now()
	m.mu.Unlock()
	return kids, nil
}

// LoadStat fetches the attribute block. On failure the previous stat is kept
// and I/O failures are stored in the stat error slot.
func (m *Metadata) LoadStat(ctx context.Context, client *facade.Client) error {
	st, err := client.Stat(ctx, m.ID())
	if err != nil {
		logger.Debug("Failed to stat %s: %v", m.ID(), err)
		if storable(err) {
			m.mu.Lock()
			m.statErr = err
			m.mu.Unlock()
		}
		return err
	}

	m.mu.Lock()
	m.stat = &st
	m.statStale = false
	m.timestamp = m.clock.Now()
	m.mu.Unlock()
	return nil
}

// TakeChildError returns and clears the stored child listing failure.
func (m *Metadata) TakeChildError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.childErr
	m.childErr = nil
	return err
}

// HasStatFailed reports and clears a stored stat failure. A true result
// means the entity should be skipped by the current stat pass.
func (m *Metadata) HasStatFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := m.statErr != nil
	m.statErr = nil
	return failed
}

func (m *Metadata) recordChildErr(err error) error {
	if storable(err) {
		m.mu.Lock()
		m.childErr = err
		m.mu.Unlock()
	}
	return err
}

// storable reports whether err describes the remote side rather than the
// caller, the dispatcher or a broken invariant.
func storable(err error) bool {
	switch {
	case native.IsLogic(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, dispatch.ErrClosed):
		return false
	}
	return err != nil
}

// ChildID derives the identifier of a listed entry. It reports false for
// self and parent links and for kinds that are not surfaced.
func ChildID(parent smburi.ID, e native.DirEntry) (smburi.ID, bool) {
	switch e.Kind {
	case native.KindLink, native.KindCommsShare, native.KindIPCShare, native.KindPrinterShare:
		logger.Debug("Skipping unsupported %s entry %q under %s", e.Kind, e.Name, parent)
		return "", false
	case native.KindWorkgroup, native.KindServer:
		id, err := smburi.Root.Child(e.Name)
		if err != nil {
			return "", false
		}
		return id, true
	}

	if e.Name == "." || e.Name == ".." {
		return "", false
	}
	id, err := parent.Child(e.Name)
	if err != nil {
		logger.Warn("Skipping entry %q under %s: %v", e.Name, parent, err)
		return "", false
	}
	return id, true
}
