package process

// DelayLine is a fixed-length FIFO. Every push evicts the oldest sample.
type DelayLine struct {
	buf  []float64
	head int
}

func NewDelayLine(n int) *DelayLine {
	if n < 1 {
		n = 1
	}
	return &DelayLine{buf: make([]float64, n)}
}

// Push appends v and returns the sample it displaced.
func (d *DelayLine) Push(v float64) float64 {
	out := d.buf[d.head]
	d.buf[d.head] = v
	d.head = (d.head + 1) % len(d.buf)
	return out
}

func (d *DelayLine) Len() int { return len(d.buf) }

// Values returns the contents ordered oldest first.
func (d *DelayLine) Values() []float64 {
	out := make([]float64, 0, len(d.buf))
	out = append(out, d.buf[d.head:]...)
	return append(out, d.buf[:d.head]...)
}
