package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // encoded envelope
}

// ReplayBuffer keeps the most recent envelopes of one channel so a client
// that noticed a channel_seq gap can fetch what it missed.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	next    int
	filled  bool
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push stores an envelope, evicting the oldest when full. data is not
// copied; callers hand over ownership.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	rb.entries[rb.next] = replayEntry{Seq: seq, Data: data}
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next, rb.filled = 0, true
	}
	rb.mu.Unlock()
}

// Range returns envelopes with fromSeq <= seq <= toSeq, oldest first.
// toSeq <= 0 means no upper bound.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	rb.each(func(e replayEntry) {
		if e.Seq >= fromSeq && (toSeq <= 0 || e.Seq <= toSeq) {
			out = append(out, e.Data)
		}
	})
	return out
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.filled {
		return len(rb.entries)
	}
	return rb.next
}

// each visits entries oldest first. Caller holds the lock.
func (rb *ReplayBuffer) each(fn func(replayEntry)) {
	if rb.filled {
		for _, e := range rb.entries[rb.next:] {
			fn(e)
		}
	}
	for _, e := range rb.entries[:rb.next] {
		fn(e)
	}
}
