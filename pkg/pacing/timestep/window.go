package timestep

// window is a fixed-capacity ring of the most recent render frequencies.
// The oldest sample is overwritten once the ring is full.
type window struct {
	samples []float64
	next    int
	count   int
	sum     float64
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &window{samples: make([]float64, capacity)}
}

// Push appends v, evicting the oldest sample when full.
func (w *window) Push(v float64) {
	if w.count == len(w.samples) {
		w.sum -= w.samples[w.next]
	} else {
		w.count++
	}
	w.samples[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.samples)

	// Re-sum once per lap so subtraction error cannot accumulate.
	if w.next == 0 {
		w.sum = 0
		for _, s := range w.samples[:w.count] {
			w.sum += s
		}
	}
}

// Mean returns the arithmetic mean of the retained samples, or 0 when empty.
func (w *window) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

func (w *window) Len() int { return w.count }

func (w *window) Cap() int { return len(w.samples) }

// Values returns the retained samples, oldest first.
func (w *window) Values() []float64 {
	out := make([]float64, 0, w.count)
	start := w.next - w.count
	if start < 0 {
		start += len(w.samples)
	}
	for i := 0; i < w.count; i++ {
		out = append(out, w.samples[(start+i)%len(w.samples)])
	}
	return out
}

func (w *window) Reset() {
	for i := range w.samples {
		w.samples[i] = 0
	}
	w.next, w.count, w.sum = 0, 0, 0
}
