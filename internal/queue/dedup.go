package queue

import "rxnotify/internal/types"

// Deduplicator rejects repeat deliveries within a single drain cycle. Two
// messages share a deduplication ID when they describe the same patient and
// pharmacy; keeping only the first avoids double-notifying when the queue
// sat unprocessed long enough for a second update to be submitted.
//
// The window is one drain cycle only. Durable suppression across invocations
// is the cooldown filter's job, not this one's.
type Deduplicator struct {
	seen   map[string]struct{}
	logger types.Logger
}

// NewDeduplicator creates an empty Deduplicator.
func NewDeduplicator(logger types.Logger) *Deduplicator {
	return &Deduplicator{
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// FirstSeen reports whether this is the first occurrence of the given
// deduplication ID in the current cycle, recording it as seen. Later
// occurrences are logged and should be discarded by the caller.
func (d *Deduplicator) FirstSeen(dedupID string) bool {
	if _, dup := d.seen[dedupID]; dup {
		d.logger.Warn("duplicate MessageDeduplicationId encountered; skipping duplicate",
			"deduplication_id", dedupID,
		)
		return false
	}
	d.seen[dedupID] = struct{}{}
	return true
}
