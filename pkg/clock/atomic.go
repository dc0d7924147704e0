package clock

import "sync/atomic"

// SeqClock hands out the global write sequence. A single instance is shared
// by every column family writing to the same WAL.
type SeqClock struct {
	atomic.Uint64
}

func NewSeq(init uint64) *SeqClock {
	var sc SeqClock
	sc.Set(init)
	return &sc
}

func (sc *SeqClock) Val() uint64 {
	return sc.Load()
}

func (sc *SeqClock) Next() uint64 {
	return sc.Add(1)
}

func (sc *SeqClock) Set(t uint64) {
	sc.Store(t)
}
