package device

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaiwahq/kaiwa/internal/media"
)

type fakeSource struct {
	mu      sync.Mutex
	err     error
	streams []*media.Stream
	opens   []media.Constraints
}

func (f *fakeSource) Open(_ context.Context, c media.Constraints) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, c)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.streams) == 0 {
		return nil, media.ErrDeviceUnavailable
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func (f *fakeSource) lastOpen(t *testing.T) media.Constraints {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.opens)
	return f.opens[len(f.opens)-1]
}

type stateCollector struct {
	mu     sync.Mutex
	states []CaptureState
}

func (c *stateCollector) record(s CaptureState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *stateCollector) last(t *testing.T) CaptureState {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.states)
	return c.states[len(c.states)-1]
}

func TestStartSelfRequestsCloseTalkProcessing(t *testing.T) {
	micTrack := media.NewPipe(media.TrackAudio, 4)
	mic := &fakeSource{streams: []*media.Stream{media.NewStream(micTrack)}}
	states := &stateCollector{}
	a := New(Config{Microphone: mic, OnState: states.record})

	stream, err := a.StartSelf(context.Background())
	require.NoError(t, err)
	require.Len(t, stream.AudioTracks(), 1)

	c := mic.lastOpen(t)
	require.NotNil(t, c.Audio)
	require.True(t, c.Audio.EchoCancellation)
	require.True(t, c.Audio.NoiseSuppression)
	require.True(t, c.Audio.AutoGainControl)
	require.False(t, c.Video)

	require.True(t, a.State().SelfActive)
	require.Equal(t, CaptureState{SelfActive: true}, states.last(t))
}

func TestStartSelfPermissionDenied(t *testing.T) {
	mic := &fakeSource{err: media.ErrPermissionDenied}
	a := New(Config{Microphone: mic})

	_, err := a.StartSelf(context.Background())
	require.ErrorIs(t, err, media.ErrPermissionDenied)
	require.False(t, a.State().SelfActive)
}

func TestStartSelfWithoutSourceUnavailable(t *testing.T) {
	a := New(Config{})
	_, err := a.StartSelf(context.Background())
	require.ErrorIs(t, err, media.ErrDeviceUnavailable)
}

func TestStartSelfWhileActiveRejected(t *testing.T) {
	mic := &fakeSource{streams: []*media.Stream{
		media.NewStream(media.NewPipe(media.TrackAudio, 4)),
		media.NewStream(media.NewPipe(media.TrackAudio, 4)),
	}}
	a := New(Config{Microphone: mic})

	_, err := a.StartSelf(context.Background())
	require.NoError(t, err)
	_, err = a.StartSelf(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "already active")
}

func TestStartOtherDisablesVideoWithoutStoppingIt(t *testing.T) {
	audio := media.NewPipe(media.TrackAudio, 4)
	video := media.NewPipe(media.TrackVideo, 4)
	system := &fakeSource{streams: []*media.Stream{media.NewStream(audio, video)}}
	a := New(Config{System: system})

	stream, err := a.StartOther(context.Background())
	require.NoError(t, err)

	c := system.lastOpen(t)
	require.NotNil(t, c.Audio)
	require.True(t, c.Video, "back-ends may refuse an audio-only request")
	require.False(t, c.Audio.EchoCancellation, "close-talk processing must not touch system audio")

	require.False(t, video.Enabled())
	require.True(t, video.Live(), "video is disabled, not stopped")
	require.True(t, audio.Enabled())
	require.True(t, a.State().OtherActive)
	require.Len(t, stream.AudioTracks(), 1)
}

func TestStartOtherRefusesAudiolessShare(t *testing.T) {
	video := media.NewPipe(media.TrackVideo, 4)
	system := &fakeSource{streams: []*media.Stream{media.NewStream(video)}}
	a := New(Config{System: system})

	_, err := a.StartOther(context.Background())
	require.ErrorIs(t, err, media.ErrNoAudioTrack)
	require.False(t, video.Live(), "refused stream must be fully released")
	require.False(t, a.State().OtherActive)
}

func TestStopOtherIdempotentAndNeverExternal(t *testing.T) {
	audio := media.NewPipe(media.TrackAudio, 4)
	system := &fakeSource{streams: []*media.Stream{media.NewStream(audio)}}
	var externalEnds atomic.Int32
	a := New(Config{System: system, OnOtherEnded: func() { externalEnds.Add(1) }})

	_, err := a.StartOther(context.Background())
	require.NoError(t, err)

	a.StopOther()
	a.StopOther()

	require.False(t, audio.Live())
	require.False(t, a.State().OtherActive)
	require.Equal(t, int32(0), externalEnds.Load(), "an intentional stop is not an external end")
}

func TestExternalEndSurfacesOtherStop(t *testing.T) {
	audio := media.NewPipe(media.TrackAudio, 4)
	video := media.NewPipe(media.TrackVideo, 4)
	system := &fakeSource{streams: []*media.Stream{media.NewStream(audio, video)}}
	states := &stateCollector{}
	var externalEnds atomic.Int32
	a := New(Config{
		System:       system,
		OnState:      states.record,
		OnOtherEnded: func() { externalEnds.Add(1) },
	})

	_, err := a.StartOther(context.Background())
	require.NoError(t, err)

	audio.End()

	require.Equal(t, int32(1), externalEnds.Load())
	require.False(t, a.State().OtherActive)
	require.False(t, video.Live(), "remaining tracks released on external end")
	require.Equal(t, CaptureState{}, states.last(t))

	// A later intentional stop stays a no-op.
	a.StopOther()
	require.Equal(t, int32(1), externalEnds.Load())
}

func TestBothChannelsTrackedIndependently(t *testing.T) {
	mic := &fakeSource{streams: []*media.Stream{media.NewStream(media.NewPipe(media.TrackAudio, 4))}}
	system := &fakeSource{streams: []*media.Stream{media.NewStream(media.NewPipe(media.TrackAudio, 4))}}
	a := New(Config{Microphone: mic, System: system})

	_, err := a.StartSelf(context.Background())
	require.NoError(t, err)
	_, err = a.StartOther(context.Background())
	require.NoError(t, err)
	require.Equal(t, CaptureState{SelfActive: true, OtherActive: true}, a.State())

	a.StopSelf()
	require.Equal(t, CaptureState{OtherActive: true}, a.State())

	a.StopOther()
	require.Equal(t, CaptureState{}, a.State())
}
