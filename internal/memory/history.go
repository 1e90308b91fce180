package memory

import "github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"

const defaultHistorySize = 500

// History is a fixed-size ring of struggle records.
// Prevents unbounded growth for learners that emit events for months.
// Not safe for concurrent use; the owning Entry serializes access.
type History struct {
	buf  []domain.StruggleRecord
	size int
	head int // write position
	tail int // oldest record
	full bool
}

// NewHistory creates a ring holding at most size records.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{
		buf:  make([]domain.StruggleRecord, size),
		size: size,
	}
}

// Append adds a record. When the ring is full the oldest record is
// overwritten and returned with evicted=true.
func (h *History) Append(rec domain.StruggleRecord) (old domain.StruggleRecord, evicted bool) {
	if h.full {
		old = h.buf[h.tail]
		evicted = true
		h.tail = (h.tail + 1) % h.size
	}
	h.buf[h.head] = rec
	h.head = (h.head + 1) % h.size
	if h.head == h.tail {
		h.full = true
	}
	return old, evicted
}

// Records returns a chronological copy of the ring contents.
func (h *History) Records() []domain.StruggleRecord {
	n := h.Len()
	out := make([]domain.StruggleRecord, n)
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.tail+i)%h.size]
	}
	return out
}

// Len returns the number of records held.
func (h *History) Len() int {
	if h.full {
		return h.size
	}
	if h.head >= h.tail {
		return h.head - h.tail
	}
	return (h.size - h.tail) + h.head
}

// Last returns the most recent record.
func (h *History) Last() (domain.StruggleRecord, bool) {
	if h.Len() == 0 {
		return domain.StruggleRecord{}, false
	}
	return h.buf[(h.head-1+h.size)%h.size], true
}
