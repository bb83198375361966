package provider

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittosmb/internal/clock"
	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/facade"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/native/memory"
	"github.com/marmos91/dittosmb/pkg/share"
	"github.com/marmos91/dittosmb/pkg/smburi"
	"github.com/marmos91/dittosmb/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	shareID = smburi.Share("host", "share")
	fileA   = smburi.MustParse("smb://host/share/a.txt")
	subDir  = smburi.MustParse("smb://host/share/sub")
	t0      = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	p   *Provider
	mem *memory.Client
	clk *clock.FakeClock
}

type fixtureOption func(*Options)

func withTasks(m *task.Manager) fixtureOption {
	return func(o *Options) { o.Tasks = m }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	mem := memory.New()
	mem.AddShare("host", "share", native.KindFileShare, "")
	require.NoError(t, mem.WriteFile(fileA, []byte("hello")))
	require.NoError(t, mem.MkdirAll(subDir))

	d := dispatch.New(mem)
	t.Cleanup(func() { _ = d.Close() })
	client := facade.New(d)
	clk := clock.Fake(t0)

	o := Options{
		Client: client,
		Cache:  cache.New(cache.WithClock(clk)),
		Clock:  clk,
	}
	for _, opt := range opts {
		opt(&o)
	}
	p, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	return &fixture{p: p, mem: mem, clk: clk}
}

// list queries id and waits for the background stat pass, if any.
func (f *fixture) list(t *testing.T, id smburi.ID) *Listing {
	t.Helper()
	l, err := f.p.QueryChildren(context.Background(), id)
	require.NoError(t, err)
	if l.Stat != nil {
		require.NoError(t, l.Stat.Wait(context.Background()))
	}
	return l
}

func childIDs(l *Listing) []smburi.ID {
	ids := make([]smburi.ID, 0, len(l.Children))
	for _, c := range l.Children {
		ids = append(ids, c.ID())
	}
	return ids
}

// ============================================================================
// QueryChildren
// ============================================================================

func TestQueryChildrenLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("MissWaitsForListing", func(t *testing.T) {
		l, err := f.p.QueryChildren(ctx, shareID)
		require.NoError(t, err)
		assert.Equal(t, []smburi.ID{fileA, subDir}, childIDs(l))
		assert.Nil(t, l.Refresh)

		require.True(t, l.Loading, "a.txt has no attributes yet")
		require.NotNil(t, l.Stat)
		require.NoError(t, l.Stat.Wait(ctx))

		size, ok := l.Children[0].Size()
		require.True(t, ok)
		assert.Equal(t, int64(5), size)
		assert.Equal(t, 1, f.mem.CallCount("opendir"))
	})

	t.Run("HitMakesNoNativeCall", func(t *testing.T) {
		f.mem.ResetCalls()

		l, err := f.p.QueryChildren(ctx, shareID)
		require.NoError(t, err)
		assert.Equal(t, []smburi.ID{fileA, subDir}, childIDs(l))
		assert.Nil(t, l.Refresh)
		assert.False(t, l.Loading)
		assert.Zero(t, f.mem.CallCount(""))
	})

	t.Run("ExpiredServesStaleAndRefreshes", func(t *testing.T) {
		f.mem.ResetCalls()
		require.NoError(t, f.mem.WriteFile(smburi.MustParse("smb://host/share/b.txt"), nil))
		f.clk.Advance(cache.DefaultTTL)

		release := make(chan struct{})
		f.mem.SetHook(func(c memory.Call) {
			if c.Op == "opendir" {
				<-release
			}
		})
		defer f.mem.SetHook(nil)

		l, err := f.p.QueryChildren(ctx, shareID)
		close(release)
		require.NoError(t, err)
		assert.Equal(t, []smburi.ID{fileA, subDir}, childIDs(l), "stale children are served")
		require.NotNil(t, l.Refresh)
		require.NoError(t, l.Refresh.Wait(ctx))
		assert.Equal(t, 1, f.mem.CallCount("opendir"))

		kids, ok := f.p.Cache().Children(shareID)
		require.True(t, ok)
		assert.Len(t, kids, 3)
		assert.Equal(t, cache.Hit, f.p.Cache().Get(shareID).State)

		size, ok := l.Children[0].Size()
		require.True(t, ok, "attributes survive a listing that carries none")
		assert.Equal(t, int64(5), size)

		f.mem.ResetCalls()
		l = f.list(t, shareID)
		assert.True(t, l.Loading, "attributes from before the listing are reloaded")
		assert.Equal(t, 2, f.mem.CallCount("stat"), "a.txt and the new b.txt")
		size, ok = l.Children[0].Size()
		require.True(t, ok)
		assert.Equal(t, int64(5), size)
		assert.False(t, l.Children[0].NeedsStat())
	})
}

func TestQueryChildrenListingStats(t *testing.T) {
	f := newFixture(t)
	f.mem.SetListingStats(true)

	l := f.list(t, shareID)
	assert.False(t, l.Loading, "the listing already carried the attributes")
	assert.Nil(t, l.Stat)
	assert.Zero(t, f.mem.CallCount("stat"))

	size, ok := l.Children[0].Size()
	require.True(t, ok)
	assert.Equal(t, int64(5), size)
}

func TestQueryChildrenRefreshWhileStatPassRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	f.mem.SetHook(func(c memory.Call) {
		if c.Op == "stat" && c.ID == fileA {
			<-release
		}
	})
	defer f.mem.SetHook(nil)

	l1, err := f.p.QueryChildren(ctx, shareID)
	require.NoError(t, err)
	require.NotNil(t, l1.Stat, "a.txt is being stated")
	require.Equal(t, 1, f.mem.CallCount("opendir"))

	f.clk.Advance(cache.DefaultTTL)

	l2, err := f.p.QueryChildren(ctx, shareID)
	require.NoError(t, err)
	require.NotNil(t, l2.Refresh)
	assert.NotSame(t, l1.Stat, l2.Refresh, "the stat pass does not stand in for the refresh")
	assert.Same(t, l1.Stat, l2.Stat, "the running stat pass is joined")

	close(release)
	require.NoError(t, l2.Refresh.Wait(ctx))
	require.NoError(t, l1.Stat.Wait(ctx))

	assert.Equal(t, 2, f.mem.CallCount("opendir"))
	assert.Equal(t, cache.Hit, f.p.Cache().Get(shareID).State)
}

func TestQueryChildrenSkipsFailedStatOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	errDown := errors.New("connection reset")
	f.mem.Fail("stat", fileA, errDown, 1)

	l := f.list(t, shareID)
	require.True(t, l.Loading)
	_, ok := l.Children[0].Size()
	require.False(t, ok, "the stat of a.txt failed")

	f.mem.ResetCalls()
	l, err := f.p.QueryChildren(ctx, shareID)
	require.NoError(t, err)
	assert.False(t, l.Loading, "a.txt is skipped for one round")
	assert.Nil(t, l.Stat)
	assert.Zero(t, f.mem.CallCount("stat"))
	assert.NotEqual(t, cache.Miss, f.p.Cache().Get(fileA).State)

	l = f.list(t, shareID)
	assert.True(t, l.Loading, "then a.txt is stated again")
	assert.Equal(t, 1, f.mem.CallCount("stat"))
	size, ok := l.Children[0].Size()
	require.True(t, ok)
	assert.Equal(t, int64(5), size)
}

func TestQueryChildrenDeduplicatesRefresh(t *testing.T) {
	var started, joined atomic.Int64
	tasks := task.New(task.WithMetrics(&countingMetrics{started: &started, joined: &joined}))
	f := newFixture(t, withTasks(tasks))
	ctx := context.Background()

	_, err := f.p.QueryDocument(ctx, shareID)
	require.NoError(t, err)

	release := make(chan struct{})
	f.mem.SetHook(func(c memory.Call) {
		if c.Op == "opendir" {
			<-release
		}
	})
	f.mem.ResetCalls()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := f.p.QueryChildren(ctx, shareID)
			if err == nil && len(l.Children) != 2 {
				err = errors.New("unexpected children")
			}
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		return started.Load()+joined.Load() == n
	}, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.mem.CallCount("opendir"))
	assert.False(t, f.mem.Overlapped())
}

func TestQueryChildrenErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("Root", func(t *testing.T) {
		_, err := f.p.QueryChildren(ctx, smburi.Root)
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("NotDirectory", func(t *testing.T) {
		_, err := f.p.QueryChildren(ctx, fileA)
		assert.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("StickyDocumentError", func(t *testing.T) {
		missing := smburi.MustParse("smb://host/share/missing")

		_, err := f.p.QueryChildren(ctx, missing)
		require.True(t, native.IsNotFound(err))

		f.mem.ResetCalls()
		_, err = f.p.QueryChildren(ctx, missing)
		require.True(t, native.IsNotFound(err), "stored error is returned once")
		assert.Zero(t, f.mem.CallCount("stat"))

		_, err = f.p.QueryChildren(ctx, missing)
		require.True(t, native.IsNotFound(err))
		assert.Equal(t, 1, f.mem.CallCount("stat"), "then the load is retried")
	})

	t.Run("ChildLoadErrorKeepsPreviousChildren", func(t *testing.T) {
		_, err := f.p.QueryChildren(ctx, subDir)
		require.NoError(t, err)

		errDown := errors.New("connection reset")
		f.mem.Fail("opendir", subDir, errDown, 1)
		f.clk.Advance(cache.DefaultTTL)

		l, err := f.p.QueryChildren(ctx, subDir)
		require.NoError(t, err)
		require.NotNil(t, l.Refresh)
		require.ErrorIs(t, l.Refresh.Wait(ctx), errDown)

		_, err = f.p.QueryChildren(ctx, subDir)
		assert.ErrorIs(t, err, errDown, "the failed refresh is reported once")

		kids, ok := f.p.Cache().Children(subDir)
		assert.True(t, ok)
		assert.Empty(t, kids)
	})

	t.Run("CancelledWaitIsNotStored", func(t *testing.T) {
		other := smburi.MustParse("smb://host/share/other")
		release := make(chan struct{})
		f.mem.SetHook(func(c memory.Call) {
			if c.Op == "stat" && c.ID == other {
				<-release
			}
		})
		defer f.mem.SetHook(nil)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.p.QueryChildren(cctx, other)
		close(release)
		require.ErrorIs(t, err, context.Canceled)
		assert.NoError(t, f.p.Cache().TakeError(other))
	})
}

// ============================================================================
// QueryDocument and Roots
// ============================================================================

func TestQueryDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.p.QueryDocument(ctx, fileA)
	require.NoError(t, err)
	assert.Equal(t, native.KindFile, m.Kind())
	size, ok := m.Size()
	require.True(t, ok)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, 1, f.mem.CallCount("stat"))

	again, err := f.p.QueryDocument(ctx, fileA)
	require.NoError(t, err)
	assert.Same(t, m, again)
	assert.Equal(t, 1, f.mem.CallCount("stat"))

	server, err := f.p.QueryDocument(ctx, smburi.Server("host"))
	require.NoError(t, err)
	assert.Equal(t, native.KindServer, server.Kind())
	assert.Equal(t, 1, f.mem.CallCount("stat"), "servers are synthesized")
}

func TestRootsWithoutRegistry(t *testing.T) {
	f := newFixture(t)

	roots, err := f.p.Roots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, roots)
}

// ============================================================================
// Writes
// ============================================================================

func TestCreateDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.list(t, shareID)

	var (
		mu       sync.Mutex
		notified []smburi.ID
	)
	f.p.Subscribe(func(id smburi.ID) {
		mu.Lock()
		notified = append(notified, id)
		mu.Unlock()
	})

	id, err := f.p.CreateDocument(ctx, shareID, "new.txt", false)
	require.NoError(t, err)
	assert.Equal(t, smburi.MustParse("smb://host/share/new.txt"), id)
	assert.True(t, f.mem.Exists(id))
	mu.Lock()
	assert.Contains(t, notified, shareID)
	mu.Unlock()

	kids, ok := f.p.Cache().Children(shareID)
	require.True(t, ok)
	assert.Len(t, kids, 3)

	dir, err := f.p.CreateDocument(ctx, shareID, "docs", true)
	require.NoError(t, err)
	l, err := f.p.QueryChildren(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, l.Children)
	assert.Equal(t, 1, f.mem.CallCount("opendir"), "new directories start with an empty listing")

	_, err = f.p.CreateDocument(ctx, shareID, "a/b", false)
	assert.Equal(t, native.ErrInvalidArgument, native.CodeOf(err))

	_, err = f.p.CreateDocument(ctx, smburi.Server("host"), "x", false)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRenameDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.list(t, shareID)

	id, err := f.p.RenameDocument(ctx, fileA, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, smburi.MustParse("smb://host/share/b.txt"), id)
	assert.False(t, f.mem.Exists(fileA))
	assert.True(t, f.mem.Exists(id))

	c := f.p.Cache()
	assert.Equal(t, cache.Miss, c.Get(fileA).State)
	require.NotEqual(t, cache.Miss, c.Get(id).State)
	assert.Equal(t, "b.txt", c.Get(id).Item.Name())

	ids, _ := c.Get(shareID).Item.ChildIDs()
	assert.ElementsMatch(t, []smburi.ID{id, subDir}, ids)

	_, err = f.p.RenameDocument(ctx, shareID, "renamed")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestMoveDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	target, err := f.p.MoveDocument(ctx, fileA, subDir)
	require.NoError(t, err)
	assert.Equal(t, smburi.MustParse("smb://host/share/sub/a.txt"), target)
	assert.True(t, f.mem.Exists(target))

	_, err = f.p.MoveDocument(ctx, target, smburi.Share("host", "other"))
	assert.ErrorIs(t, err, ErrCrossShare)

	inner := smburi.MustParse("smb://host/share/sub/inner")
	require.NoError(t, f.mem.MkdirAll(inner))
	_, err = f.p.MoveDocument(ctx, subDir, inner)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRenameNotifiesAfterCacheUpdate(t *testing.T) {
	ctx := context.Background()

	// watch records the cached children of each folder when it is notified.
	watch := func(f *fixture) *sync.Map {
		var seen sync.Map
		f.p.Subscribe(func(id smburi.ID) {
			if kids, ok := f.p.Cache().Children(id); ok {
				ids := make([]smburi.ID, 0, len(kids))
				for _, k := range kids {
					ids = append(ids, k.ID())
				}
				seen.Store(id, ids)
			}
		})
		return &seen
	}

	t.Run("Rename", func(t *testing.T) {
		f := newFixture(t)
		f.list(t, shareID)
		seen := watch(f)

		id, err := f.p.RenameDocument(ctx, fileA, "b.txt")
		require.NoError(t, err)

		got, ok := seen.Load(shareID)
		require.True(t, ok, "the folder was notified")
		assert.ElementsMatch(t, []smburi.ID{id, subDir}, got)
	})

	t.Run("Move", func(t *testing.T) {
		f := newFixture(t)
		f.list(t, shareID)
		f.list(t, subDir)
		seen := watch(f)

		target, err := f.p.MoveDocument(ctx, fileA, subDir)
		require.NoError(t, err)

		got, ok := seen.Load(shareID)
		require.True(t, ok)
		assert.Equal(t, []smburi.ID{subDir}, got, "the source no longer lists the document")

		got, ok = seen.Load(subDir)
		require.True(t, ok)
		assert.Equal(t, []smburi.ID{target}, got, "the target lists it")
	})
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	nested := smburi.MustParse("smb://host/share/sub/deep/x.txt")
	require.NoError(t, f.mem.WriteFile(nested, []byte("x")))

	f.list(t, shareID)
	f.list(t, subDir)

	require.NoError(t, f.p.DeleteDocument(ctx, subDir))
	assert.False(t, f.mem.Exists(subDir))
	assert.False(t, f.mem.Exists(nested))
	assert.Equal(t, cache.Miss, f.p.Cache().Get(subDir).State)

	ids, _ := f.p.Cache().Get(shareID).Item.ChildIDs()
	assert.Equal(t, []smburi.ID{fileA}, ids)

	require.NoError(t, f.p.DeleteDocument(ctx, fileA))
	assert.False(t, f.mem.Exists(fileA))

	assert.NoError(t, f.p.DeleteDocument(ctx, fileA), "deleting a missing document succeeds")
	assert.ErrorIs(t, f.p.DeleteDocument(ctx, shareID), ErrUnsupported)
}

// ============================================================================
// Streams
// ============================================================================

func TestReadWriteFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := f.p.ReadFile(ctx, fileA, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "hello", buf.String())

	m, err := f.p.QueryDocument(ctx, fileA)
	require.NoError(t, err)
	require.False(t, m.NeedsStat())

	n, err = f.p.WriteFile(ctx, fileA, strings.NewReader("hello, world"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.True(t, m.NeedsStat(), "cached attributes are dropped after a write")

	data, err := f.mem.ReadFile(fileA)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))

	_, err = f.p.AppendFile(ctx, fileA, strings.NewReader("!"))
	require.NoError(t, err)
	data, _ = f.mem.ReadFile(fileA)
	assert.Equal(t, "hello, world!", string(data))

	fresh := smburi.MustParse("smb://host/share/fresh.txt")
	_, err = f.p.WriteFile(ctx, fresh, strings.NewReader("new"))
	require.NoError(t, err)
	assert.True(t, f.mem.Exists(fresh))

	_, err = f.p.ReadFile(ctx, smburi.MustParse("smb://host/share/nope"), &buf)
	assert.True(t, native.IsNotFound(err))
}

// ============================================================================
// Mounting
// ============================================================================

func TestMountAndUnmount(t *testing.T) {
	ctx := context.Background()
	secure := smburi.Share("host", "secure")
	secret := smburi.MustParse("smb://host/secure/secret.txt")

	mem := memory.New()
	mem.AddShare("host", "secure", native.KindFileShare, "")
	mem.RequireAuth(secure, "", "alice", "pw")
	require.NoError(t, mem.WriteFile(secret, []byte("s")))

	d := dispatch.New(mem)
	t.Cleanup(func() { _ = d.Close() })
	client := facade.New(d)

	shares, err := share.NewManager(ctx, share.NewMemoryStore(), client.Credentials())
	require.NoError(t, err)

	p, err := New(Options{Client: client, Shares: shares})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })

	var rootChanges atomic.Int64
	p.Subscribe(func(id smburi.ID) {
		if id == smburi.Root {
			rootChanges.Add(1)
		}
	})

	err = p.Mount(ctx, secure, "", "alice", "wrong")
	require.True(t, native.IsAuthFailed(err))
	assert.Equal(t, cache.Miss, p.Cache().Get(secure).State)
	_, _, ok := mem.Credential(secure)
	assert.False(t, ok, "rejected credential is dropped")

	roots, err := p.Roots(ctx)
	require.NoError(t, err)
	assert.Empty(t, roots)

	require.NoError(t, p.Mount(ctx, secure, "", "alice", "pw"))
	assert.Equal(t, int64(1), rootChanges.Load())

	roots, err = p.Roots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, secure, roots[0].ID())

	kids, ok := p.Cache().Children(secure)
	require.True(t, ok, "mounting lists the share")
	require.Len(t, kids, 1)
	assert.Equal(t, secret, kids[0].ID())

	err = p.Mount(ctx, secure, "", "alice", "pw")
	assert.ErrorIs(t, err, share.ErrAlreadyMounted)

	err = p.Mount(ctx, secret, "", "alice", "pw")
	assert.ErrorIs(t, err, ErrUnsupported)

	require.NoError(t, p.Unmount(ctx, secure))
	assert.Equal(t, cache.Miss, p.Cache().Get(secure).State)
	assert.Equal(t, cache.Miss, p.Cache().Get(secret).State)

	roots, err = p.Roots(ctx)
	require.NoError(t, err)
	assert.Empty(t, roots)
}

// ============================================================================
// Helpers
// ============================================================================

type countingMetrics struct {
	started *atomic.Int64
	joined  *atomic.Int64
}

func (m *countingMetrics) RecordStarted()                       { m.started.Add(1) }
func (m *countingMetrics) RecordJoined()                        { m.joined.Add(1) }
func (m *countingMetrics) RecordFinished(string, time.Duration) {}
