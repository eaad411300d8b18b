package mixgraph

import (
	"math"
	"sync/atomic"
)

// toneGenerator produces the keep-alive signal: a constant sine far
// below audibility. Some capture back-ends suspend an audio-only
// derived stream once they detect sustained true silence; mixing this
// in defeats that heuristic.
type toneGenerator struct {
	step    float64
	amp     float64
	phase   float64
	stopped atomic.Bool
}

func newToneGenerator(freqHz, amplitude float64, sampleRate int) *toneGenerator {
	return &toneGenerator{
		step: 2 * math.Pi * freqHz / float64(sampleRate),
		amp:  amplitude,
	}
}

// next returns the next sample as a fraction of full scale. A stopped
// generator contributes pure silence.
func (g *toneGenerator) next() float64 {
	if g.stopped.Load() {
		return 0
	}
	s := math.Sin(g.phase) * g.amp
	g.phase += g.step
	if g.phase > 2*math.Pi {
		g.phase -= 2 * math.Pi
	}
	return s
}

// stop silences the generator. Stopping twice is a no-op.
func (g *toneGenerator) stop() {
	g.stopped.Store(true)
}

func (g *toneGenerator) running() bool {
	return !g.stopped.Load()
}
