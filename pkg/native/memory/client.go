package memory

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// Call records one native invocation.
type Call struct {
	Seq uint64
	Op  string
	ID  smburi.ID
}

type credential struct {
	domain   string
	username string
	password string
}

type node struct {
	kind     native.EntryKind
	children map[string]*node
	data     []byte
	modTime  time.Time
}

func newDir(now time.Time) *node {
	return &node{kind: native.KindDir, children: make(map[string]*node), modTime: now}
}

type share struct {
	kind     native.EntryKind
	comment  string
	root     *node
	required *credential
}

type server struct {
	comment string
	shares  map[string]*share
}

type failure struct {
	err       error
	remaining int // < 0 means forever
}

// Client is an in-memory native.Client.
//
// It models servers, shares and directory trees, and records every native
// call it receives. It flags any two calls whose execution overlaps, which
// lets tests assert that a caller serializes access the way a real native
// handle requires.
//
// Setup helpers (AddServer, WriteFile, Fail, ...) may be called from any
// goroutine. The native.Client methods are meant for a single goroutine.
type Client struct {
	mu       sync.Mutex
	servers  map[string]*server
	creds    map[smburi.ID]credential
	failures map[string]*failure
	calls    []Call
	delay    time.Duration
	hook     func(Call)
	closed   bool
	now      func() time.Time

	listingStats bool

	seq      atomic.Uint64
	inFlight atomic.Int32
	overlap  atomic.Bool
	resets   atomic.Int32
}

var _ native.Client = (*Client)(nil)

// New returns an empty in-memory network.
func New() *Client {
	return &Client{
		servers:  make(map[string]*server),
		creds:    make(map[smburi.ID]credential),
		failures: make(map[string]*failure),
		now:      time.Now,
	}
}

// ============================================================================
// Setup helpers
// ============================================================================

// AddServer registers a host. Adding an existing host is a no-op.
func (c *Client) AddServer(host, comment string) smburi.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := smburi.Server(host)
	if _, ok := c.servers[id.Host()]; !ok {
		c.servers[id.Host()] = &server{comment: comment, shares: make(map[string]*share)}
	}
	return id
}

// AddShare registers a share of the given kind, creating the host if needed.
func (c *Client) AddShare(host, name string, kind native.EntryKind, comment string) smburi.ID {
	c.AddServer(host, "")
	c.mu.Lock()
	defer c.mu.Unlock()
	id := smburi.Share(host, name)
	srv := c.servers[id.Host()]
	if _, ok := srv.shares[name]; !ok {
		srv.shares[name] = &share{kind: kind, comment: comment, root: newDir(c.now())}
	}
	return id
}

// RequireAuth makes the share reject listings unless the credential found
// for it matches.
func (c *Client) RequireAuth(shareID smburi.ID, domain, username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sh := c.shareLocked(shareID); sh != nil {
		sh.required = &credential{domain: domain, username: username, password: password}
	}
}

// MkdirAll creates a directory and any missing parents inside a share.
func (c *Client) MkdirAll(id smburi.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.walkLocked(id, true)
	return err
}

// WriteFile creates or replaces a file, creating parent directories.
func (c *Client) WriteFile(id smburi.ID, data []byte) error {
	return c.putNode(id, native.KindFile, data)
}

// Symlink creates an entry of link kind.
func (c *Client) Symlink(id smburi.ID) error {
	return c.putNode(id, native.KindLink, nil)
}

func (c *Client) putNode(id smburi.ID, kind native.EntryKind, data []byte) error {
	parentID, err := id.Parent()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	parent, err := c.walkLocked(parentID, true)
	if err != nil {
		return err
	}
	parent.children[id.Name()] = &node{kind: kind, data: append([]byte(nil), data...), modTime: c.now()}
	return nil
}

// ReadFile returns a copy of a file's content.
func (c *Client) ReadFile(id smburi.ID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.nodeLocked("readfile", id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), n.data...), nil
}

// Exists reports whether a path exists inside a share.
func (c *Client) Exists(id smburi.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.nodeLocked("exists", id)
	return err == nil
}

// Fail makes the next times calls of op on id fail with err. times < 0
// keeps failing until ClearFailures. An empty id matches every id.
func (c *Client) Fail(op string, id smburi.ID, err error, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op+" "+string(id)] = &failure{err: err, remaining: times}
}

// ClearFailures removes all injected failures.
func (c *Client) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = make(map[string]*failure)
}

// SetDelay makes every call take at least d.
func (c *Client) SetDelay(d time.Duration) {
	c.mu.Lock()
	c.delay = d
	c.mu.Unlock()
}

// SetListingStats makes directory listings carry each entry's attributes,
// as SMB2 directory queries do. Listings carry names and kinds only by
// default.
func (c *Client) SetListingStats(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listingStats = on
}

// SetHook installs fn, run at the start of every call outside the client
// lock. A hook may block or panic.
func (c *Client) SetHook(fn func(Call)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// SetNow overrides the time source used for modification times.
func (c *Client) SetNow(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Calls returns a snapshot of recorded calls in execution order.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallCount counts recorded calls of op. An empty op counts everything.
func (c *Client) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if op == "" || call.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (c *Client) ResetCalls() {
	c.mu.Lock()
	c.calls = nil
	c.mu.Unlock()
}

// Overlapped reports whether two calls ever executed at the same time.
func (c *Client) Overlapped() bool { return c.overlap.Load() }

// Resets counts Reset invocations.
func (c *Client) Resets() int { return int(c.resets.Load()) }

// Credential returns the credential registered exactly at id.
func (c *Client) Credential(id smburi.ID) (domain, username string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.creds[id]
	return cred.domain, cred.username, ok
}

// ============================================================================
// Instrumentation
// ============================================================================

// enter records the call and runs the hook and delay. The returned func must
// be deferred.
func (c *Client) enter(op string, id smburi.ID) (func(), error) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	done := func() { c.inFlight.Add(-1) }

	call := Call{Seq: c.seq.Add(1), Op: op, ID: id}

	c.mu.Lock()
	c.calls = append(c.calls, call)
	hook, delay, closed := c.hook, c.delay, c.closed
	injected := c.takeFailureLocked(op, id)
	c.mu.Unlock()

	if hook != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					done()
					panic(r)
				}
			}()
			hook(call)
		}()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if closed && op != "close" {
		return done, native.NewError(native.ErrInvalidArgument, op, id, errors.New("client closed"))
	}
	return done, injected
}

func (c *Client) takeFailureLocked(op string, id smburi.ID) error {
	for _, key := range []string{op + " " + string(id), op + " "} {
		f, ok := c.failures[key]
		if !ok {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(c.failures, key)
			}
		}
		return f.err
	}
	return nil
}

// ============================================================================
// Tree navigation (caller holds mu)
// ============================================================================

func (c *Client) shareLocked(id smburi.ID) *share {
	srv, ok := c.servers[id.Host()]
	if !ok {
		return nil
	}
	return srv.shares[id.ShareName()]
}

// walkLocked resolves a directory, optionally creating missing directories.
func (c *Client) walkLocked(id smburi.ID, create bool) (*node, error) {
	if !id.InShare() {
		return nil, native.NewError(native.ErrInvalidArgument, "walk", id, errors.New("not inside a share"))
	}
	sh := c.shareLocked(id)
	if sh == nil {
		return nil, native.NewError(native.ErrNotFound, "walk", id, nil)
	}
	cur := sh.root
	for _, seg := range id.Segments()[2:] {
		next, ok := cur.children[seg]
		if !ok {
			if !create {
				return nil, native.NewError(native.ErrNotFound, "walk", id, nil)
			}
			next = newDir(c.now())
			cur.children[seg] = next
		}
		if next.kind != native.KindDir {
			return nil, native.NewError(native.ErrNotDirectory, "walk", id, nil)
		}
		cur = next
	}
	return cur, nil
}

func (c *Client) nodeLocked(op string, id smburi.ID) (*node, error) {
	if !id.InShare() {
		return nil, native.NewError(native.ErrNotSupported, op, id, errors.New("not inside a share"))
	}
	sh := c.shareLocked(id)
	if sh == nil {
		return nil, native.NewError(native.ErrNotFound, op, id, nil)
	}
	cur := sh.root
	for _, seg := range id.Segments()[2:] {
		if cur.kind != native.KindDir {
			return nil, native.NewError(native.ErrNotDirectory, op, id, nil)
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil, native.NewError(native.ErrNotFound, op, id, nil)
		}
		cur = next
	}
	return cur, nil
}

// parentLocked resolves the directory that should contain id.
func (c *Client) parentLocked(op string, id smburi.ID) (*node, error) {
	if id.Path() == "" {
		return nil, native.NewError(native.ErrNotSupported, op, id, errors.New("not a path inside a share"))
	}
	parentID, _ := id.Parent()
	parent, err := c.nodeLocked(op, parentID)
	if err != nil {
		return nil, err
	}
	if parent.kind != native.KindDir {
		return nil, native.NewError(native.ErrNotDirectory, op, parentID, nil)
	}
	return parent, nil
}

func (c *Client) authorizeLocked(op string, id smburi.ID) error {
	sh := c.shareLocked(id)
	if sh == nil || sh.required == nil {
		return nil
	}
	cred, ok := c.creds[id.ShareID()]
	if !ok {
		cred, ok = c.creds[smburi.Server(id.Host())]
	}
	if !ok || cred != *sh.required {
		return native.NewError(native.ErrAuthFailed, op, id, nil)
	}
	return nil
}

// ============================================================================
// native.Client
// ============================================================================

func (c *Client) OpenDir(id smburi.ID) (native.Dir, error) {
	done, err := c.enter("opendir", id)
	defer done()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var entries, dots []native.DirEntry
	switch {
	case id.IsRoot():
		for host, srv := range c.servers {
			entries = append(entries, native.DirEntry{Kind: native.KindServer, Name: host, Comment: srv.comment})
		}
	case id.IsServer():
		srv, ok := c.servers[id.Host()]
		if !ok {
			return nil, native.NewError(native.ErrUnreachable, "opendir", id, nil)
		}
		for name, sh := range srv.shares {
			entries = append(entries, native.DirEntry{Kind: sh.kind, Name: name, Comment: sh.comment})
		}
	default:
		if err := c.authorizeLocked("opendir", id); err != nil {
			return nil, err
		}
		n, err := c.nodeLocked("opendir", id)
		if err != nil {
			return nil, err
		}
		if n.kind != native.KindDir {
			return nil, native.NewError(native.ErrNotDirectory, "opendir", id, nil)
		}
		dots = []native.DirEntry{
			{Kind: native.KindDir, Name: "."},
			{Kind: native.KindDir, Name: ".."},
		}
		for name, child := range n.children {
			e := native.DirEntry{Kind: child.kind, Name: name}
			if c.listingStats {
				st := statOf(child)
				e.Stat = &st
			}
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	entries = append(dots, entries...)
	return &dir{client: c, id: id, entries: entries}, nil
}

func (c *Client) Stat(id smburi.ID) (native.Stat, error) {
	done, err := c.enter("stat", id)
	defer done()
	if err != nil {
		return native.Stat{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.authorizeLocked("stat", id); err != nil {
		return native.Stat{}, err
	}
	n, err := c.nodeLocked("stat", id)
	if err != nil {
		return native.Stat{}, err
	}
	return statOf(n), nil
}

func statOf(n *node) native.Stat {
	return native.Stat{Size: int64(len(n.data)), ModTime: n.modTime, IsDir: n.kind == native.KindDir}
}

func (c *Client) CreateFile(id smburi.ID) error {
	done, err := c.enter("create", id)
	defer done()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	parent, err := c.parentLocked("create", id)
	if err != nil {
		return err
	}
	if existing, ok := parent.children[id.Name()]; ok && existing.kind == native.KindDir {
		return native.NewError(native.ErrAlreadyExists, "create", id, nil)
	}
	parent.children[id.Name()] = &node{kind: native.KindFile, modTime: c.now()}
	return nil
}

func (c *Client) Mkdir(id smburi.ID) error {
	done, err := c.enter("mkdir", id)
	defer done()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	parent, err := c.parentLocked("mkdir", id)
	if err != nil {
		return err
	}
	if _, ok := parent.children[id.Name()]; ok {
		return native.NewError(native.ErrAlreadyExists, "mkdir", id, nil)
	}
	parent.children[id.Name()] = newDir(c.now())
	return nil
}

func (c *Client) Rename(id, newID smburi.ID) error {
	done, err := c.enter("rename", id)
	defer done()
	if err != nil {
		return err
	}
	if !id.SameShare(newID) {
		return native.NewError(native.ErrNotSupported, "rename", id, errors.New("rename across shares"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	from, err := c.parentLocked("rename", id)
	if err != nil {
		return err
	}
	n, ok := from.children[id.Name()]
	if !ok {
		return native.NewError(native.ErrNotFound, "rename", id, nil)
	}
	to, err := c.parentLocked("rename", newID)
	if err != nil {
		return err
	}
	if _, ok := to.children[newID.Name()]; ok {
		return native.NewError(native.ErrAlreadyExists, "rename", newID, nil)
	}
	delete(from.children, id.Name())
	to.children[newID.Name()] = n
	return nil
}

func (c *Client) Unlink(id smburi.ID) error {
	done, err := c.enter("unlink", id)
	defer done()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	parent, err := c.parentLocked("unlink", id)
	if err != nil {
		return err
	}
	n, ok := parent.children[id.Name()]
	if !ok {
		return native.NewError(native.ErrNotFound, "unlink", id, nil)
	}
	if n.kind == native.KindDir {
		return native.NewError(native.ErrAccessDenied, "unlink", id, errors.New("is a directory"))
	}
	delete(parent.children, id.Name())
	return nil
}

func (c *Client) Rmdir(id smburi.ID) error {
	done, err := c.enter("rmdir", id)
	defer done()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	parent, err := c.parentLocked("rmdir", id)
	if err != nil {
		return err
	}
	n, ok := parent.children[id.Name()]
	if !ok {
		return native.NewError(native.ErrNotFound, "rmdir", id, nil)
	}
	if n.kind != native.KindDir {
		return native.NewError(native.ErrNotDirectory, "rmdir", id, nil)
	}
	if len(n.children) > 0 {
		return native.NewError(native.ErrNotEmpty, "rmdir", id, nil)
	}
	delete(parent.children, id.Name())
	return nil
}

func (c *Client) OpenFile(id smburi.ID, mode string) (native.File, error) {
	done, err := c.enter("openfile", id)
	defer done()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.authorizeLocked("openfile", id); err != nil {
		return nil, err
	}

	f := &file{client: c, id: id, mode: mode}
	switch mode {
	case native.ModeRead, native.ModeReadWrite:
		n, err := c.nodeLocked("openfile", id)
		if err != nil {
			return nil, err
		}
		if n.kind != native.KindFile {
			return nil, native.NewError(native.ErrAccessDenied, "openfile", id, errors.New("not a regular file"))
		}
		f.node = n
	case native.ModeWrite, native.ModeTruncate, native.ModeAppend:
		parent, err := c.parentLocked("openfile", id)
		if err != nil {
			return nil, err
		}
		n, ok := parent.children[id.Name()]
		if !ok {
			n = &node{kind: native.KindFile, modTime: c.now()}
			parent.children[id.Name()] = n
		}
		if n.kind != native.KindFile {
			return nil, native.NewError(native.ErrAccessDenied, "openfile", id, errors.New("not a regular file"))
		}
		if mode != native.ModeAppend {
			n.data = nil
			n.modTime = c.now()
		}
		f.node = n
		if mode == native.ModeAppend {
			f.pos = int64(len(n.data))
		}
	default:
		return nil, native.NewError(native.ErrInvalidArgument, "openfile", id, errors.New("unknown mode "+mode))
	}
	return f, nil
}

func (c *Client) PutCredential(id smburi.ID, domain, username, password string) error {
	done, err := c.enter("putcredential", id)
	defer done()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.creds[id] = credential{domain: domain, username: username, password: password}
	c.mu.Unlock()
	return nil
}

func (c *Client) RemoveCredential(id smburi.ID) error {
	done, err := c.enter("removecredential", id)
	defer done()
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.creds, id)
	c.mu.Unlock()
	return nil
}

func (c *Client) Reset() error {
	done, err := c.enter("reset", "")
	defer done()
	if err != nil {
		return err
	}
	c.resets.Add(1)
	return nil
}

func (c *Client) Close() error {
	done, _ := c.enter("close", "")
	defer done()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
