package cache

// Metrics receives cache events. Implementations must be safe for concurrent
// use. A nil Metrics passed to WithMetrics disables collection.
type Metrics interface {
	// RecordLookup counts a Get by resulting state ("miss", "hit", "expired").
	RecordLookup(state string)

	// RecordEntries reports the number of cached entities.
	RecordEntries(n int)

	// RecordStickyError counts sticky error events ("stored", "taken").
	RecordStickyError(event string)
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(string)      {}
func (noopMetrics) RecordEntries(int)        {}
func (noopMetrics) RecordStickyError(string) {}
