package mixgraph

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kaiwahq/kaiwa/internal/media"
)

func pcmChunk(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func pcmSamples(t *testing.T, chunk []byte) []int16 {
	t.Helper()
	require.Zero(t, len(chunk)%2)
	out := make([]int16, len(chunk)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
	}
	return out
}

func recvChunk(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case chunk, ok := <-ch:
		require.True(t, ok, "output closed early")
		return chunk
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mixed chunk")
		return nil
	}
}

func TestGraphAppliesFixedGain(t *testing.T) {
	in := media.NewPipe(media.TrackAudio, 16)
	g, err := New(in, Config{Gain: 5, DisableKeepAlive: true})
	require.NoError(t, err)
	defer g.Close()

	out := g.Output().AudioTracks()
	require.Len(t, out, 1)

	in.Write(pcmChunk(1000, -200, 0))
	got := pcmSamples(t, recvChunk(t, out[0].Chunks()))
	require.Equal(t, []int16{5000, -1000, 0}, got)
}

func TestGraphGainSaturates(t *testing.T) {
	in := media.NewPipe(media.TrackAudio, 16)
	g, err := New(in, Config{Gain: 5, DisableKeepAlive: true})
	require.NoError(t, err)
	defer g.Close()

	in.Write(pcmChunk(20000, -20000))
	got := pcmSamples(t, recvChunk(t, g.Output().AudioTracks()[0].Chunks()))
	require.Equal(t, []int16{math.MaxInt16, math.MinInt16}, got)
}

func TestGraphZeroGainSelectsDefault(t *testing.T) {
	in := media.NewPipe(media.TrackAudio, 16)
	g, err := New(in, Config{DisableKeepAlive: true})
	require.NoError(t, err)
	defer g.Close()

	in.Write(pcmChunk(100))
	got := pcmSamples(t, recvChunk(t, g.Output().AudioTracks()[0].Chunks()))
	require.Equal(t, []int16{500}, got)
}

func TestGraphKeepAliveDefeatsSilence(t *testing.T) {
	in := media.NewPipe(media.TrackAudio, 16)
	g, err := New(in, Config{Gain: 5})
	require.NoError(t, err)
	defer g.Close()

	silence := make([]int16, media.ChunkBytes/media.BytesPerSample)
	in.Write(pcmChunk(silence...))

	got := pcmSamples(t, recvChunk(t, g.Output().AudioTracks()[0].Chunks()))
	var nonZero int
	for _, s := range got {
		if s != 0 {
			nonZero++
		}
		// Sub-audible: well under half a percent of full scale.
		require.LessOrEqual(t, math.Abs(float64(s)), 0.005*math.MaxInt16)
	}
	require.Positive(t, nonZero, "keep-alive tone must keep the output from being pure silence")
}

func TestGraphAnalysisTap(t *testing.T) {
	in := media.NewPipe(media.TrackAudio, 16)
	g, err := New(in, Config{Gain: 1, DisableKeepAlive: true})
	require.NoError(t, err)
	defer g.Close()

	tap := g.AnalysisTap()
	out := g.Output().AudioTracks()[0]

	in.Write(pcmChunk(16384, -16384))
	recvChunk(t, out.Chunks())

	select {
	case level := <-tap.Levels():
		require.InDelta(t, 0.5, level.Peak, 0.01)
		require.InDelta(t, 0.5, level.RMS, 0.01)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for level")
	}
}

func TestGraphTapDetachStopsDeliveryNotOutput(t *testing.T) {
	in := media.NewPipe(media.TrackAudio, 16)
	g, err := New(in, Config{Gain: 1, DisableKeepAlive: true})
	require.NoError(t, err)
	defer g.Close()

	tap := g.AnalysisTap()
	tap.Detach()
	tap.Detach()

	out := g.Output().AudioTracks()[0]
	in.Write(pcmChunk(1, 2, 3))
	require.Equal(t, []int16{1, 2, 3}, pcmSamples(t, recvChunk(t, out.Chunks())))

	// The tap channel closes once the pump observes the detach; the
	// primary path above kept flowing regardless.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tap.Levels():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("tap channel never closed after detach")
		}
	}
}

func TestGraphConstructionFailures(t *testing.T) {
	dead := media.NewPipe(media.TrackAudio, 1)
	dead.Stop()

	tests := []struct {
		name  string
		track media.AudioTrack
		cfg   Config
	}{
		{name: "nil track", track: nil, cfg: Config{}},
		{name: "dead track", track: dead, cfg: Config{}},
		{name: "negative gain", track: media.NewPipe(media.TrackAudio, 1), cfg: Config{Gain: -1}},
		{name: "nan gain", track: media.NewPipe(media.TrackAudio, 1), cfg: Config{Gain: math.NaN()}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.track, tc.cfg)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrConstruction)
			require.Nil(t, g)
		})
	}
}

func TestGraphCloseIsIdempotentAndClosesOutput(t *testing.T) {
	in := media.NewPipe(media.TrackAudio, 16)
	g, err := New(in, Config{})
	require.NoError(t, err)

	out := g.Output().AudioTracks()[0]
	g.Close()
	g.Close()

	_, open := <-out.Chunks()
	require.False(t, open, "output must close with the graph")
	require.False(t, g.tone.running(), "tone generator must be stopped before disconnection")
}

func TestGraphInputEndTearsDown(t *testing.T) {
	in := media.NewPipe(media.TrackAudio, 16)
	g, err := New(in, Config{})
	require.NoError(t, err)

	in.End()

	select {
	case <-g.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit after input ended")
	}
	_, open := <-g.Output().AudioTracks()[0].Chunks()
	require.False(t, open)

	// Close after natural teardown stays safe.
	g.Close()
}

func TestToneGeneratorStopTwice(t *testing.T) {
	g := newToneGenerator(440, 0.001, media.SampleRate)
	g.next()
	require.True(t, g.running())

	g.stop()
	g.stop()
	require.False(t, g.running())
	require.Zero(t, g.next())
}
