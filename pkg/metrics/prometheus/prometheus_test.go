package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/task"
)

var (
	_ dispatch.Metrics = (*dispatchMetrics)(nil)
	_ cache.Metrics    = (*cacheMetrics)(nil)
	_ task.Metrics     = (*taskMetrics)(nil)
)

func TestDisabledConstructorsReturnNil(t *testing.T) {
	assert.Nil(t, NewDispatchMetrics())
	assert.Nil(t, NewCacheMetrics())
	assert.Nil(t, NewTaskMetrics())
}

func TestDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newDispatchMetrics(reg)

	m.ObserveOperation("stat", "success", time.Millisecond)
	m.ObserveOperation("stat", "success", time.Millisecond)
	m.ObserveOperation("opendir", "io_error", time.Millisecond)
	m.RecordQueueDepth(3)
	m.RecordAbandoned("read")
	m.RecordPanic("write")
	m.ObserveQueueWait(time.Microsecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("stat", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("opendir", "io_error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.abandoned.WithLabelValues("read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.panics.WithLabelValues("write")))

	n, err := testutil.GatherAndCount(reg, "dittosmb_native_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per kind")
}

func TestCacheMetrics(t *testing.T) {
	m := newCacheMetrics(prometheus.NewRegistry())

	c := cache.New(cache.WithMetrics(m))
	c.Get("smb://host/share")
	c.PutError("smb://host/share", assert.AnError)
	_ = c.TakeError("smb://host/share")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stickyErrors.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stickyErrors.WithLabelValues("taken")))

	m.RecordEntries(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.entries))
}

func TestTaskMetrics(t *testing.T) {
	m := newTaskMetrics(prometheus.NewRegistry())

	m.RecordStarted()
	m.RecordStarted()
	m.RecordJoined()
	m.RecordFinished("success", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.started))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.joined))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("success")))
}
