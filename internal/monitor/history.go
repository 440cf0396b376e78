package monitor

import "github.com/polystatics/polystatics/internal/models"

// History is a fixed-capacity ring of price samples in arrival order.
// Pushing onto a full history evicts the oldest sample.
type History struct {
	buf  []models.Sample
	head int // index of the oldest sample
	n    int
}

// NewHistory allocates a history holding at most capacity samples.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]models.Sample, capacity)}
}

// Push appends s, evicting the oldest sample when full.
func (h *History) Push(s models.Sample) {
	if h.n < len(h.buf) {
		h.buf[(h.head+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.head] = s
	h.head = (h.head + 1) % len(h.buf)
}

func (h *History) Len() int { return h.n }

// Each calls fn for every sample from oldest to newest until fn returns false.
func (h *History) Each(fn func(models.Sample) bool) {
	for i := 0; i < h.n; i++ {
		if !fn(h.buf[(h.head+i)%len(h.buf)]) {
			return
		}
	}
}
