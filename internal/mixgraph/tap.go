package mixgraph

import "sync/atomic"

// Level is one analysis reading over a single chunk, normalized to
// 0..1 of full scale.
type Level struct {
	RMS  float64
	Peak float64
}

// Tap is the visualization handle for one graph session. It never
// affects the primary output path: delivery drops when the consumer
// lags, and Detach only stops further readings. A new Tap is issued
// per session; holding one across stop/start yields a closed channel.
type Tap struct {
	ch       chan Level
	detached atomic.Bool
}

func newTap() *Tap {
	return &Tap{ch: make(chan Level, 8)}
}

// Levels delivers readings until the tap is detached or the graph
// closes, after which the channel is closed.
func (t *Tap) Levels() <-chan Level {
	return t.ch
}

// Detach stops delivery. Safe to call repeatedly and independent of
// the graph's own lifecycle.
func (t *Tap) Detach() {
	t.detached.Store(true)
}
