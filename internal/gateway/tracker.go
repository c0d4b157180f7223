package gateway

// Tracker hands out monotonically increasing sequence numbers per key
// class. A response is applied only if its sequence is still the latest
// for its class; superseded responses are dropped, not aborted. Owned by
// a single session goroutine, not safe for concurrent use.
type Tracker struct {
	seq map[KeyClass]uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seq: make(map[KeyClass]uint64)}
}

// Issue registers a new request for the class and returns its sequence
// number. Any in-flight request with a lower sequence becomes stale.
func (t *Tracker) Issue(kc KeyClass) uint64 {
	t.seq[kc]++
	return t.seq[kc]
}

// Current returns the latest issued sequence for the class (0 if none).
func (t *Tracker) Current(kc KeyClass) uint64 {
	return t.seq[kc]
}

// IsStale reports whether a response carrying seq has been superseded.
func (t *Tracker) IsStale(kc KeyClass, seq uint64) bool {
	return seq != t.seq[kc]
}
