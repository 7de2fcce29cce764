package engine

// window is a fixed-capacity ring of the most recent samples.
type window struct {
	buf  []float64
	next int
	full bool
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

func (w *window) Push(v float64) {
	w.buf[w.next] = v
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *window) Len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Mean of the held samples; 0 when empty.
func (w *window) Mean() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += w.buf[i]
	}
	return sum / float64(n)
}

// Values returns the samples oldest first.
func (w *window) Values() []float64 {
	n := w.Len()
	out := make([]float64, 0, n)
	if w.full {
		out = append(out, w.buf[w.next:]...)
		out = append(out, w.buf[:w.next]...)
		return out
	}
	return append(out, w.buf[:w.next]...)
}
