// Package mixgraph keeps the other-channel capture pipeline alive and
// loud enough for segmentation: a fixed gain stage for quiet system
// audio, a sub-audible keep-alive tone, and a non-consuming analysis
// tap for level visualization.
package mixgraph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/kaiwahq/kaiwa/internal/media"
)

// ErrConstruction marks failures that should degrade the caller to
// unsegmented raw recording instead of failing the channel start.
var ErrConstruction = errors.New("mix graph construction failed")

const (
	// DefaultGain is the fixed amplification for system audio, which is
	// typically far quieter than a close-talk microphone. A plain
	// multiplier, not gain control.
	DefaultGain = 5.0

	toneFrequencyHz = 440.0
	// Keep-alive amplitude as a fraction of full scale. Loud enough to
	// defeat silence detection, far below audibility.
	toneAmplitude = 0.001

	outputBufferChunks = 128
)

type Config struct {
	// Gain of 0 selects DefaultGain; negative gain fails construction.
	Gain float64
	// DisableKeepAlive turns the tone generator off. Segmentation then
	// depends on the capture back-end never suspending silent streams.
	DisableKeepAlive bool
}

// Graph owns the gain stage, tone generator, and analysis tap for one
// other-channel session. The three share the session's lifetime and
// are torn down together by Close.
type Graph struct {
	in   media.AudioTrack
	out  *media.Pipe
	tap  *Tap
	tone *toneGenerator
	gain float64

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds the graph over the raw captured audio track and starts
// mixing. Construction errors wrap ErrConstruction.
func New(track media.AudioTrack, cfg Config) (*Graph, error) {
	if track == nil {
		return nil, fmt.Errorf("%w: no audio track", ErrConstruction)
	}
	if !track.Live() {
		return nil, fmt.Errorf("%w: audio track is not live", ErrConstruction)
	}
	gain := cfg.Gain
	if gain == 0 {
		gain = DefaultGain
	}
	if gain < 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return nil, fmt.Errorf("%w: invalid gain %v", ErrConstruction, cfg.Gain)
	}

	g := &Graph{
		in:   track,
		out:  media.NewPipe(media.TrackAudio, outputBufferChunks),
		tap:  newTap(),
		tone: newToneGenerator(toneFrequencyHz, toneAmplitude, media.SampleRate),
		gain: gain,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.DisableKeepAlive {
		g.tone.stop()
	}

	go g.pump()
	return g, nil
}

// Output returns the mixed stream consumed by the recorder pool. It
// carries exactly one audio track.
func (g *Graph) Output() *media.Stream {
	return media.NewStream(g.out)
}

// AnalysisTap returns this session's visualization handle.
func (g *Graph) AnalysisTap() *Tap {
	return g.tap
}

// Close stops the tone generator first, then disconnects the graph.
// Idempotent; safe after the input track has already ended.
func (g *Graph) Close() {
	g.closeOnce.Do(func() {
		g.tone.stop()
		close(g.quit)
	})
	<-g.done
}

func (g *Graph) pump() {
	defer close(g.done)

	tapOpen := true
	defer func() {
		g.out.Stop()
		if tapOpen {
			close(g.tap.ch)
		}
	}()

	for {
		select {
		case <-g.quit:
			return
		case chunk, ok := <-g.in.Chunks():
			if !ok {
				return
			}
			if len(chunk) < media.BytesPerSample {
				continue
			}
			mixed, level := g.process(chunk)
			g.out.Write(mixed)
			if tapOpen {
				if g.tap.detached.Load() {
					close(g.tap.ch)
					tapOpen = false
				} else {
					select {
					case g.tap.ch <- level:
					default:
					}
				}
			}
		}
	}
}

// process applies gain and the keep-alive tone sample by sample,
// saturating at full scale, and measures the mixed result.
func (g *Graph) process(chunk []byte) ([]byte, Level) {
	n := len(chunk) / media.BytesPerSample * media.BytesPerSample
	mixed := make([]byte, len(chunk))
	copy(mixed[n:], chunk[n:])

	var sumSquares float64
	var peak float64
	samples := n / media.BytesPerSample

	for i := 0; i < n; i += media.BytesPerSample {
		s := float64(int16(binary.LittleEndian.Uint16(chunk[i:])))
		v := s*g.gain + g.tone.next()*math.MaxInt16
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(mixed[i:], uint16(int16(v)))

		norm := math.Abs(v) / (math.MaxInt16 + 1)
		sumSquares += norm * norm
		if norm > peak {
			peak = norm
		}
	}

	level := Level{Peak: peak}
	if samples > 0 {
		level.RMS = math.Sqrt(sumSquares / float64(samples))
	}
	return mixed, level
}
