package transfer

import (
	"io"
	"sync/atomic"
)

// Observer receives the cumulative byte count of a metered stream.
type Observer interface {
	Observe(total int64)
}

type ObserverFunc func(total int64)

func (f ObserverFunc) Observe(total int64) { f(total) }

// Meter counts bytes moving through the readers and writers it wraps and
// reports the running total to an Observer after every chunk.
type Meter struct {
	total    atomic.Int64
	observer Observer
}

// NewMeter creates a meter. A nil observer is allowed.
func NewMeter(observer Observer) *Meter {
	return &Meter{observer: observer}
}

// Add accounts n bytes and returns the new total.
func (m *Meter) Add(n int) int64 {
	total := m.total.Add(int64(n))
	if m.observer != nil && n > 0 {
		m.observer.Observe(total)
	}
	return total
}

func (m *Meter) Total() int64 {
	return m.total.Load()
}

func (m *Meter) Reader(r io.Reader) io.Reader {
	return &meterReader{r: r, m: m}
}

func (m *Meter) Writer(w io.Writer) io.Writer {
	return &meterWriter{w: w, m: m}
}

type meterReader struct {
	r io.Reader
	m *Meter
}

func (mr *meterReader) Read(p []byte) (int, error) {
	n, err := mr.r.Read(p)
	mr.m.Add(n)
	return n, err
}

type meterWriter struct {
	w io.Writer
	m *Meter
}

func (mw *meterWriter) Write(p []byte) (int, error) {
	n, err := mw.w.Write(p)
	mw.m.Add(n)
	return n, err
}
