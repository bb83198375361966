package task

import "time"

// Metrics receives task manager events.
type Metrics interface {
	RecordStarted()
	RecordJoined()

	// RecordFinished is called once per started task with status "success"
	// or "error".
	RecordFinished(status string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordStarted()                       {}
func (noopMetrics) RecordJoined()                        {}
func (noopMetrics) RecordFinished(string, time.Duration) {}
