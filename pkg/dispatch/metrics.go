package dispatch

import "time"

// Metrics observes the dispatcher. Implementations must be safe for
// concurrent use. When nil is passed, collection is skipped.
type Metrics interface {
	// ObserveOperation records a completed native call. status is one of
	// "success", "io_error" or "logic_error".
	ObserveOperation(kind string, status string, duration time.Duration)

	// ObserveQueueWait records how long an operation sat in the queue.
	ObserveQueueWait(duration time.Duration)

	// RecordQueueDepth records the number of queued operations.
	RecordQueueDepth(depth int)

	// RecordAbandoned records a result whose caller stopped waiting.
	RecordAbandoned(kind string)

	// RecordPanic records a panic recovered from a native call.
	RecordPanic(kind string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopMetrics) ObserveQueueWait(time.Duration)                 {}
func (noopMetrics) RecordQueueDepth(int)                           {}
func (noopMetrics) RecordAbandoned(string)                         {}
func (noopMetrics) RecordPanic(string)                             {}
