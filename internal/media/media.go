package media

import (
	"context"
	"errors"
)

// The capture path runs a single PCM format end to end: 16 kHz mono
// signed 16-bit little-endian, delivered in 20 ms chunks.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
	ChunkMillis    = 20
	ChunkBytes     = SampleRate * Channels * BytesPerSample * ChunkMillis / 1000
)

var (
	ErrPermissionDenied  = errors.New("capture permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrNoAudioTrack      = errors.New("stream carries no audio track")
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Constraints describe one capture request to a Source.
type Constraints struct {
	Audio *AudioConstraints
	Video bool
}

// AudioConstraints tune the audio lane of a request. The processing
// flags suit a close-talk microphone and are ignored by back-ends that
// cannot honor them.
type AudioConstraints struct {
	Device           string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Source acquires capture streams. Opening may block on external
// consent, so it takes a context.
type Source interface {
	Open(ctx context.Context, c Constraints) (*Stream, error)
}

// Track is one capture lane of a stream. Stop is idempotent and never
// fires the ended handler; the handler reports only external ends.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Live() bool
	Stop()
	OnEnded(fn func())
}

// AudioTrack additionally delivers PCM chunks. The channel closes when
// the track stops or ends.
type AudioTrack interface {
	Track
	Chunks() <-chan []byte
}

// Stream is a set of tracks acquired by one Source request.
type Stream struct {
	tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{tracks: tracks}
}

func (s *Stream) Tracks() []Track {
	if s == nil {
		return nil
	}
	return s.tracks
}

func (s *Stream) AudioTracks() []AudioTrack {
	var out []AudioTrack
	for _, t := range s.Tracks() {
		if t.Kind() != TrackAudio {
			continue
		}
		if at, ok := t.(AudioTrack); ok {
			out = append(out, at)
		}
	}
	return out
}

func (s *Stream) VideoTracks() []Track {
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == TrackVideo {
			out = append(out, t)
		}
	}
	return out
}

// Active reports whether any track is still live.
func (s *Stream) Active() bool {
	for _, t := range s.Tracks() {
		if t.Live() {
			return true
		}
	}
	return false
}

// Stop releases every track. Safe to call repeatedly.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
