package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/native/memory"
	"github.com/marmos91/dittosmb/pkg/smburi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNetwork(t *testing.T, files int) (*memory.Client, []smburi.ID) {
	t.Helper()
	c := memory.New()
	c.AddShare("host", "share", native.KindFileShare, "")
	ids := make([]smburi.ID, files)
	for i := range ids {
		ids[i] = smburi.MustParse(fmt.Sprintf("smb://host/share/f%03d", i))
		require.NoError(t, c.WriteFile(ids[i], []byte("x")))
	}
	return c, ids
}

// gate blocks the first native call matching op until released.
func gate(c *memory.Client, op string) (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	out := make(chan struct{})
	var once sync.Once
	c.SetHook(func(call memory.Call) {
		if call.Op != op {
			return
		}
		first := false
		once.Do(func() { first = true })
		if first {
			close(in)
			<-out
		}
	})
	return in, func() { close(out) }
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	c, ids := newNetwork(t, 32)
	c.SetDelay(time.Millisecond)
	d := New(c)
	defer d.Close()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id smburi.ID) {
			defer wg.Done()
			v, err := d.Do(context.Background(), StatOp{ID: id})
			assert.NoError(t, err)
			assert.Equal(t, int64(1), v.(native.Stat).Size)
		}(id)
	}
	wg.Wait()

	assert.False(t, c.Overlapped(), "native calls overlapped")

	calls := c.Calls()
	require.Len(t, calls, len(ids))
	seen := make(map[smburi.ID]bool)
	for i, call := range calls {
		if i > 0 {
			assert.Greater(t, call.Seq, calls[i-1].Seq)
		}
		assert.False(t, seen[call.ID], "duplicate call for %s", call.ID)
		seen[call.ID] = true
	}
	assert.Len(t, seen, len(ids))
}

func TestOperationsRunInSubmissionOrder(t *testing.T) {
	c, ids := newNetwork(t, 8)
	d := New(c)
	defer d.Close()

	entered, release := gate(c, "reset")
	resetDone := make(chan error, 1)
	go func() { resetDone <- d.Reset(context.Background()) }()
	<-entered

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(id smburi.ID) {
			defer wg.Done()
			_, err := d.Do(context.Background(), StatOp{ID: id})
			assert.NoError(t, err)
		}(id)
		require.Eventually(t, func() bool { return d.Pending() == i+1 }, time.Second, time.Millisecond)
	}

	release()
	require.NoError(t, <-resetDone)
	wg.Wait()

	calls := c.Calls()
	require.Len(t, calls, len(ids)+1)
	assert.Equal(t, "reset", calls[0].Op)
	for i, id := range ids {
		assert.Equal(t, id, calls[i+1].ID)
	}
	assert.Equal(t, 1, c.Resets())
}

func TestErrorClassIsPreserved(t *testing.T) {
	c, ids := newNetwork(t, 1)
	d := New(c)
	defer d.Close()
	ctx := context.Background()

	_, err := d.Do(ctx, StatOp{ID: smburi.MustParse("smb://host/share/missing")})
	require.Error(t, err)
	assert.True(t, native.IsNotFound(err))
	assert.True(t, native.IsIO(err))

	_, err = d.Do(ctx, StatOp{ID: smburi.Server("host")})
	require.Error(t, err)
	assert.True(t, native.IsLogic(err))

	plain := errors.New("connection reset")
	c.Fail("stat", ids[0], plain, 1)
	_, err = d.Do(ctx, StatOp{ID: ids[0]})
	assert.ErrorIs(t, err, plain)
	assert.True(t, native.IsIO(err))
}

func TestPanicBecomesLogicErrorAndWorkerSurvives(t *testing.T) {
	c, ids := newNetwork(t, 1)
	d := New(c)
	defer d.Close()

	c.SetHook(func(call memory.Call) {
		if call.Op == "mkdir" {
			panic("native crash")
		}
	})

	_, err := d.Do(context.Background(), MkdirOp{ID: smburi.MustParse("smb://host/share/d")})
	require.Error(t, err)
	assert.True(t, native.IsLogic(err))
	assert.Equal(t, native.ErrInternal, native.CodeOf(err))
	assert.Contains(t, err.Error(), "native crash")

	_, err = d.Do(context.Background(), StatOp{ID: ids[0]})
	assert.NoError(t, err)
}

func TestCancelledCallerDoesNotLeakDir(t *testing.T) {
	c, _ := newNetwork(t, 1)
	d := New(c)
	defer d.Close()

	entered, release := gate(c, "opendir")
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := d.Do(ctx, OpenDirOp{ID: smburi.Share("host", "share")})
		errc <- err
	}()

	<-entered
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	release()
	require.Eventually(t, func() bool { return c.CallCount("closedir") == 1 }, time.Second, time.Millisecond)
}

func TestCancelledBeforeSubmit(t *testing.T) {
	c, ids := newNetwork(t, 1)
	d := New(c)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Do(ctx, StatOp{ID: ids[0]})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.CallCount("stat"))
}

func TestCloseFailsQueuedOperations(t *testing.T) {
	c, ids := newNetwork(t, 3)
	d := New(c)

	entered, release := gate(c, "stat")
	first := make(chan error, 1)
	go func() {
		_, err := d.Do(context.Background(), StatOp{ID: ids[0]})
		first <- err
	}()
	<-entered

	queued := make(chan error, 2)
	for i, id := range ids[1:] {
		go func(id smburi.ID) {
			_, err := d.Do(context.Background(), StatOp{ID: id})
			queued <- err
		}(id)
		require.Eventually(t, func() bool { return d.Pending() == i+1 }, time.Second, time.Millisecond)
	}

	closed := make(chan struct{})
	go func() {
		_ = d.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool {
		select {
		case <-d.quit:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	release()
	<-closed

	assert.NoError(t, <-first)
	assert.ErrorIs(t, <-queued, ErrClosed)
	assert.ErrorIs(t, <-queued, ErrClosed)
	assert.Equal(t, 1, c.CallCount("stat"))
	assert.Equal(t, 1, c.CallCount("close"))

	_, err := d.Do(context.Background(), StatOp{ID: ids[0]})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close())
}

type recordingMetrics struct {
	mu        sync.Mutex
	statuses  map[string]int
	abandoned int
	panics    int
}

func (m *recordingMetrics) ObserveOperation(kind, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[kind+"/"+status]++
}
func (m *recordingMetrics) ObserveQueueWait(time.Duration) {}
func (m *recordingMetrics) RecordQueueDepth(int)           {}
func (m *recordingMetrics) RecordAbandoned(string) {
	m.mu.Lock()
	m.abandoned++
	m.mu.Unlock()
}
func (m *recordingMetrics) RecordPanic(string) {
	m.mu.Lock()
	m.panics++
	m.mu.Unlock()
}

func TestMetricsObserveOutcomes(t *testing.T) {
	c, ids := newNetwork(t, 1)
	m := &recordingMetrics{statuses: make(map[string]int)}
	d := New(c, WithMetrics(m), WithQueueSize(4))
	defer d.Close()
	ctx := context.Background()

	_, _ = d.Do(ctx, StatOp{ID: ids[0]})
	_, _ = d.Do(ctx, StatOp{ID: smburi.MustParse("smb://host/share/nope")})
	_, _ = d.Do(ctx, StatOp{ID: smburi.Server("host")})

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.statuses["stat/success"])
	assert.Equal(t, 1, m.statuses["stat/io_error"])
	assert.Equal(t, 1, m.statuses["stat/logic_error"])
}

func TestOpKindString(t *testing.T) {
	assert.Equal(t, "opendir", OpOpenDir.String())
	assert.Equal(t, "removecredential", OpRemoveCredential.String())
	assert.Equal(t, "unknown", OpKind(999).String())
}
