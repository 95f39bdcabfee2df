package metrics

// history is a fixed-capacity FIFO of samples.
type history struct {
	buf   []Sample
	start int
	n     int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &history{buf: make([]Sample, capacity)}
}

func (h *history) push(s Sample) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	// Full: overwrite the oldest.
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

// slice returns samples oldest first. The result shares nothing with h.
func (h *history) slice() []Sample {
	out := make([]Sample, 0, h.n)
	for i := 0; i < h.n; i++ {
		s := h.buf[(h.start+i)%len(h.buf)]
		s.LatencyMs = cloneFloat(s.LatencyMs)
		out = append(out, s)
	}
	return out
}

func (h *history) reset() {
	clear(h.buf)
	h.start, h.n = 0, 0
}
