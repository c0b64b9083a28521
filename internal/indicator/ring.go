package indicator

import "math"

// ring is a fixed-capacity FIFO of float64 values. Pushing onto a full ring evicts the oldest value.
type ring struct {
	buf   []float64
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int   { return r.size }
func (r *ring) full() bool { return r.size == len(r.buf) }

// at returns the i-th oldest value.
func (r *ring) at(i int) float64 {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *ring) max() float64 {
	out := math.Inf(-1)
	for i := 0; i < r.size; i++ {
		out = math.Max(out, r.at(i))
	}
	return out
}

func (r *ring) min() float64 {
	out := math.Inf(1)
	for i := 0; i < r.size; i++ {
		out = math.Min(out, r.at(i))
	}
	return out
}

// stdev is the sample standard deviation of the stored values.
func (r *ring) stdev() float64 {
	if r.size < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < r.size; i++ {
		sum += r.at(i)
	}
	mean := sum / float64(r.size)
	var ss float64
	for i := 0; i < r.size; i++ {
		d := r.at(i) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(r.size-1))
}

// wilder is an exponentially weighted average with alpha = 1/period, seeded with the first sample.
type wilder struct {
	alpha  float64
	value  float64
	seeded bool
}

func newWilder(period int) wilder {
	if period < 1 {
		period = 1
	}
	return wilder{alpha: 1 / float64(period)}
}

func (w *wilder) add(x float64) float64 {
	if !w.seeded {
		w.value = x
		w.seeded = true
		return w.value
	}
	w.value += w.alpha * (x - w.value)
	return w.value
}
